package soap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hidrovia/customs/internal/customs/model"
)

const successEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
  <soap12:Body>
    <RegistrarMicDtaResponse xmlns="Ar.Gob.Afip.Dga.wgesregsintia2">
      <Identificador>26001MICD000123X</Identificador>
    </RegistrarMicDtaResponse>
  </soap12:Body>
</soap12:Envelope>`

const faultEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
  <soap12:Body>
    <soap12:Fault>
      <soap12:Code><soap12:Value>soap12:Receiver</soap12:Value></soap12:Code>
      <soap12:Reason><soap12:Text xml:lang="es">Servicio temporalmente no disponible</soap12:Text></soap12:Reason>
    </soap12:Fault>
  </soap12:Body>
</soap12:Envelope>`

const legacyFaultEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
  <soap12:Body>
    <soap12:Fault>
      <faultcode>Client.ValidationFailed</faultcode>
      <faultstring>Declaracion invalida</faultstring>
    </soap12:Fault>
  </soap12:Body>
</soap12:Envelope>`

func TestSendSuccess(t *testing.T) {
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
		_, _ = w.Write([]byte(successEnvelope))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, Options{Timeout: 5 * time.Second})
	assert.NoError(t, err)

	payload := []byte(`<soap12:Envelope/>`)
	result, err := client.Send(context.Background(), "Ar.Gob.Afip.Dga.wgesregsintia2/RegistrarMicDta", payload)
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Nil(t, result.Fault)
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Equal(t, string(payload), result.RawRequestXML)
	assert.Contains(t, result.RawResponseXML, "26001MICD000123X")
	assert.Contains(t, gotContentType, `application/soap+xml`)
	assert.Contains(t, gotContentType, `action="Ar.Gob.Afip.Dga.wgesregsintia2/RegistrarMicDta"`)

	assert.Equal(t, "RegistrarMicDtaResponse", result.Body.Tag)
	assert.Equal(t, "26001MICD000123X", result.Body.SelectElement("Identificador").Text())
}

func TestSendFault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(faultEnvelope))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, Options{})
	assert.NoError(t, err)

	result, err := client.Send(context.Background(), "action", []byte(`<x/>`))
	assert.NoError(t, err, "a SOAP fault is a result, not an error")
	assert.False(t, result.Success)
	assert.NotNil(t, result.Fault)
	assert.Equal(t, "soap12:Receiver", result.Fault.Code)
	assert.Equal(t, "Servicio temporalmente no disponible", result.Fault.Message)
	assert.True(t, result.Fault.Retryable())
}

func TestSendLegacyFault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(legacyFaultEnvelope))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, Options{})
	assert.NoError(t, err)

	result, err := client.Send(context.Background(), "action", []byte(`<x/>`))
	assert.NoError(t, err)
	assert.NotNil(t, result.Fault)
	assert.Equal(t, "Client.ValidationFailed", result.Fault.Code)
	assert.Equal(t, "Declaracion invalida", result.Fault.Message)
	assert.False(t, result.Fault.Retryable())
}

func TestSendTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client, err := NewClient(server.URL, Options{Timeout: time.Second})
	assert.NoError(t, err)

	result, err := client.Send(context.Background(), "action", []byte(`<x/>`))
	var transportErr *TransportError
	assert.True(t, errors.As(err, &transportErr))
	assert.False(t, result.Success)
	assert.Equal(t, `<x/>`, result.RawRequestXML, "request bytes are captured even on failure")
}

func TestSendUnparseableResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance page</html>`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, Options{})
	assert.NoError(t, err)

	result, err := client.Send(context.Background(), "action", []byte(`<x/>`))
	var parseErr *ResponseParsingError
	assert.True(t, errors.As(err, &parseErr))
	assert.Contains(t, result.RawResponseXML, "maintenance page")
}

func TestSendContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client, err := NewClient(server.URL, Options{Timeout: 30 * time.Second})
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Send(ctx, "action", []byte(`<x/>`))
	var transportErr *TransportError
	assert.True(t, errors.As(err, &transportErr))
}

func TestNewClientRejectsBadEndpoint(t *testing.T) {
	_, err := NewClient("not a url", Options{})
	assert.Error(t, err)
	_, err = NewClient("", Options{})
	assert.Error(t, err)
}

func TestResolveEndpoint(t *testing.T) {
	// Defaults per environment.
	homolog, err := ResolveEndpoint(model.CountryArgentina, model.OperationRegisterMicDta, model.EnvironmentTesting, nil)
	assert.NoError(t, err)
	assert.Contains(t, homolog, "wsaduhomoext.afip.gob.ar")

	production, err := ResolveEndpoint(model.CountryArgentina, model.OperationRegisterMicDta, model.EnvironmentProduction, nil)
	assert.NoError(t, err)
	assert.Contains(t, production, "webservicesadu.afip.gob.ar")
	assert.NotEqual(t, homolog, production)

	// Operations route to their hosting webservice.
	decon, err := ResolveEndpoint(model.CountryArgentina, model.OperationRegisterDeconsolidation, model.EnvironmentTesting, nil)
	assert.NoError(t, err)
	assert.Contains(t, decon, "wgesdesconsolidados")

	// Company override wins.
	overrides := map[string]string{"register-mic-dta|testing": "https://sandbox.example.com/sintia"}
	url, err := ResolveEndpoint(model.CountryArgentina, model.OperationRegisterMicDta, model.EnvironmentTesting, overrides)
	assert.NoError(t, err)
	assert.Equal(t, "https://sandbox.example.com/sintia", url)

	// The override is scoped to its environment.
	url, err = ResolveEndpoint(model.CountryArgentina, model.OperationRegisterMicDta, model.EnvironmentProduction, overrides)
	assert.NoError(t, err)
	assert.Equal(t, production, url)

	_, err = ResolveEndpoint("BR", model.OperationRegisterMicDta, model.EnvironmentTesting, nil)
	assert.Error(t, err)
}

func TestActionFor(t *testing.T) {
	action, err := ActionFor(model.CountryArgentina, model.OperationRegisterMicDta)
	assert.NoError(t, err)
	assert.Equal(t, "Ar.Gob.Afip.Dga.wgesregsintia2/RegistrarMicDta", action)

	_, err = ActionFor(model.CountryParaguay, model.OperationUpdateBargePosition)
	assert.Error(t, err)
}
