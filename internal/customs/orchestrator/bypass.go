package orchestrator

import (
	"context"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/beevik/etree"
	"gorm.io/gorm"

	"github.com/hidrovia/customs/internal/customs/model"
)

// bypassActive decides whether the invocation runs in bypass mode: either the
// company profile is explicitly flagged, or its configuration matches the
// recognized testing fingerprint (testing environment with no certificate
// configured).
func bypassActive(company *model.CompanyProfile, env model.Environment) bool {
	if company.Bypass {
		return true
	}
	return env == model.EnvironmentTesting && company.CertificatePath == ""
}

// completeBypass skips signing and transmission and fabricates a
// deterministic, structurally valid success response so downstream systems
// can be exercised without real credentials. The transaction is always
// completed under the testing environment with the simulated marker set.
func (o *Orchestrator) completeBypass(ctx context.Context, tx *gorm.DB, txn *model.Transaction, doc *etree.Document, result *Result) error {
	now := o.now().UTC()

	payload, err := docBytes(doc)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return o.transactions.MarkErrorInTx(ctx, tx, txn, codeBuildFailed, err.Error(), 0, false, now)
	}
	txn.RequestXML = string(payload)

	reference := syntheticReference(txn.Country, txn.BusinessID)
	txn.ResponseXML = syntheticResponseXML(reference)

	if err := o.transactions.MarkSendingInTx(ctx, tx, txn, now); err != nil {
		return err
	}
	record := &model.ResponseRecord{
		TransactionID: txn.ID,
		AttemptNumber: txn.AttemptCount,
		IsSuccess:     true,
		Payload:       model.Metadata{"Identificador": reference, model.MetaSimulated: true},
		LatencyMs:     0,
	}
	if err := o.responses.CreateInTx(ctx, tx, record); err != nil {
		return err
	}
	if err := o.transactions.MarkSuccessInTx(ctx, tx, txn, reference, 0, now); err != nil {
		return err
	}

	o.recorder.Record(ctx, model.LogLevelInfo, categoryLifecycle, "operation simulated under bypass", &txn.ID, model.Metadata{
		"business_id": txn.BusinessID, "external_reference": reference,
	})
	result.Success = true
	result.ExternalReference = &reference
	return nil
}

// syntheticReference fabricates an external reference following the
// authority's known shape, derived only from the business id so repeated
// bypass runs are reproducible.
func syntheticReference(country model.Country, businessID string) string {
	checksum := crc32.ChecksumIEEE([]byte(businessID)) % 1000000
	year := "00"
	// The middle segment of the business id is the yyyyMMdd creation day.
	if parts := strings.Split(businessID, "-"); len(parts) == 3 && len(parts[1]) == 8 {
		year = parts[1][2:4]
	}
	return fmt.Sprintf("%s%sSIM%06dK", year, country, checksum)
}

func syntheticResponseXML(reference string) string {
	return fmt.Sprintf(
		`<?xml version="1.0" encoding="utf-8"?><soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope"><soap12:Body><SimulatedResult><Identificador>%s</Identificador></SimulatedResult></soap12:Body></soap12:Envelope>`,
		reference)
}
