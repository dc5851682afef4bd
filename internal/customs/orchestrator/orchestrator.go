package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"gorm.io/gorm"

	"github.com/hidrovia/customs/internal/archive"
	"github.com/hidrovia/customs/internal/audit"
	"github.com/hidrovia/customs/internal/customs/cert"
	"github.com/hidrovia/customs/internal/customs/model"
	"github.com/hidrovia/customs/internal/customs/soap"
	"github.com/hidrovia/customs/internal/customs/validate"
	"github.com/hidrovia/customs/internal/customs/xmlbuilder"
)

// Error codes persisted on failed transactions.
const (
	codeBuildFailed     = "BUILD_FAILED"
	codeStructureFailed = "STRUCTURE_INVALID"
	codeSigningFailed   = "SIGNING_FAILED"
	codeTransport       = "TRANSPORT_FAILURE"
	codeResponseParse   = "RESPONSE_UNPARSEABLE"
	codeRejected        = "AUTHORITY_REJECTED"
)

// Audit categories.
const (
	categoryValidation  = "validation"
	categoryCertificate = "certificate"
	categoryBuild       = "build"
	categoryTransport   = "transport"
	categoryLifecycle   = "lifecycle"
)

// Config carries the invocation-independent settings of the engine.
type Config struct {
	MaxRetries         int
	Backoff            model.BackoffSchedule
	SendTimeout        time.Duration
	InsecureSkipVerify bool
}

// Orchestrator executes customs operations. One instance serves all
// (country, operation) pairs; the per-pair variation is supplied by the
// resolved Strategy.
type Orchestrator struct {
	db           *gorm.DB
	transactions TransactionRepository
	responses    ResponseRepository
	certs        *cert.Store
	transports   TransportFactory
	payloads     archive.Storage
	recorder     audit.Recorder
	cfg          Config
	now          func() time.Time
}

// New creates an orchestrator. The payload archive may be nil, in which case
// raw documents are kept only on the transaction row.
func New(db *gorm.DB, transactions TransactionRepository, responses ResponseRepository, certs *cert.Store, transports TransportFactory, payloads archive.Storage, recorder audit.Recorder, cfg Config) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = model.BackoffSchedule{30, 120, 300}
	}
	if transports == nil {
		transports = func(endpoint string, opts soap.Options) (Transport, error) {
			return soap.NewClient(endpoint, opts)
		}
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Orchestrator{
		db:           db,
		transactions: transactions,
		responses:    responses,
		certs:        certs,
		transports:   transports,
		payloads:     payloads,
		recorder:     recorder,
		cfg:          cfg,
		now:          time.Now,
	}
}

// WithClock overrides the wall clock. Tests use it to cross retry and expiry
// boundaries deterministically.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Request is one customs operation invocation.
type Request struct {
	Country     model.Country
	Operation   model.OperationType
	Environment model.Environment
	Company     *model.CompanyProfile
	Snapshot    *model.Snapshot
	ActingUser  string
}

// Execute runs the full state machine for one invocation: validate, then
// durably create the transaction, build and check the XML and mark it
// SENDING in one unit of work, then send outside any transaction, then
// persist the outcome in a second unit of work. The split guarantees the
// business id survives a caller cancellation mid-send.
func (o *Orchestrator) Execute(ctx context.Context, req Request) *Result {
	strategy, err := ResolveStrategy(req.Country, req.Operation)
	if err != nil {
		o.recorder.Record(ctx, model.LogLevelError, categoryLifecycle, "operation not available", nil, model.Metadata{
			"country": req.Country, "operation": req.Operation, "error": err.Error(),
		})
		return failure([]string{err.Error()}, nil)
	}

	valIn, err := o.loadValidationInput(ctx, req)
	if err != nil {
		return failure([]string{err.Error()}, nil)
	}
	valResult := validate.Run(req.Country, req.Operation, *valIn)
	if !valResult.IsValid() {
		o.recorder.Record(ctx, model.LogLevelWarn, categoryValidation, "validation failed", nil, model.Metadata{
			"company": companyCode(req.Company), "operation": req.Operation, "errors": valResult.Errors,
		})
		return failure(valResult.Errors, valResult.Warnings)
	}

	bypass := bypassActive(req.Company, req.Environment)
	if bypass && req.Environment == model.EnvironmentProduction {
		// Bypass must never leak into a production transaction.
		return failure([]string{"bypass mode cannot be combined with the production environment"}, valResult.Warnings)
	}

	var credential *cert.Credential
	if !bypass {
		credential, err = o.preflightCredential(ctx, req.Company)
		if err != nil {
			return failure([]string{err.Error()}, valResult.Warnings)
		}
	}

	result := &Result{Warnings: valResult.Warnings}
	inv := &invocation{}
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return o.prepareInTx(ctx, tx, req, strategy, valIn.Original, bypass, credential, inv, result)
	})
	if err != nil {
		o.recorder.Record(ctx, model.LogLevelError, categoryLifecycle, "invocation aborted", nil, model.Metadata{
			"company": req.Company.Code, "operation": req.Operation, "error": err.Error(),
		})
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	if inv.completed {
		return result
	}

	// The SENDING row is committed; from here on the outcome is persisted
	// even if the caller goes away mid-send.
	sendResult, sendErr := inv.transport.Send(ctx, inv.txn.SoapAction, inv.payload)
	return o.finishSend(ctx, inv.txn, sendResult, sendErr, result)
}

// invocation carries the prepared state of one attempt across the
// commit boundary between creation and transmission.
type invocation struct {
	txn       *model.Transaction
	payload   []byte
	transport Transport
	// completed is set when the attempt finished inside the preparation
	// unit of work (pre-send failure or bypass) and nothing is in flight.
	completed bool
}

func companyCode(c *model.CompanyProfile) string {
	if c == nil {
		return ""
	}
	return c.Code
}

// finishSend persists the outcome of an in-flight attempt. A cancellation
// leaves the committed SENDING row untouched, with no completion timestamp,
// so the caller can treat the attempt as failed and retry later. Every other
// outcome is persisted under a context detached from caller cancellation.
func (o *Orchestrator) finishSend(ctx context.Context, txn *model.Transaction, sendResult *soap.Result, sendErr error, result *Result) *Result {
	persistCtx := context.WithoutCancel(ctx)

	if sendErr != nil && ctx.Err() != nil {
		o.recorder.Record(persistCtx, model.LogLevelWarn, categoryTransport, "send canceled by caller", &txn.ID, model.Metadata{
			"business_id": txn.BusinessID,
		})
		result.Errors = append(result.Errors, "send canceled before completion")
		return result
	}

	err := o.db.WithContext(persistCtx).Transaction(func(tx *gorm.DB) error {
		return o.interpret(persistCtx, tx, txn, sendResult, sendErr, result)
	})
	if err != nil {
		o.recorder.Record(persistCtx, model.LogLevelError, categoryLifecycle, "outcome persistence failed", &txn.ID, model.Metadata{
			"business_id": txn.BusinessID, "error": err.Error(),
		})
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
	}
	return result
}

// loadValidationInput gathers the facts validation needs but must not fetch
// itself: the original transaction of a derivative operation and the count of
// in-flight siblings.
func (o *Orchestrator) loadValidationInput(ctx context.Context, req Request) (*validate.Input, error) {
	in := &validate.Input{Company: req.Company, Snapshot: req.Snapshot, Environment: req.Environment}
	if req.Company == nil || req.Snapshot == nil || !req.Operation.IsDerivative() || req.Snapshot.OriginalReference == "" {
		return in, nil
	}
	family := req.Operation.Family()
	original, err := o.transactions.FindOriginalSuccess(ctx, req.Company.Code, family, req.Snapshot.OriginalReference)
	if err != nil {
		return nil, fmt.Errorf("failed to look up original transaction: %w", err)
	}
	if original != nil {
		in.Original = original
		count, err := o.transactions.CountInFlightDerivatives(ctx, req.Company.Code, family, req.Snapshot.OriginalReference)
		if err != nil {
			return nil, fmt.Errorf("failed to count in-flight derivatives: %w", err)
		}
		in.InFlightDerivatives = count
	}
	return in, nil
}

// preflightCredential loads and validates the company credential before any
// XML construction or network I/O, so a stale certificate short-circuits the
// invocation cheaply.
func (o *Orchestrator) preflightCredential(ctx context.Context, company *model.CompanyProfile) (*cert.Credential, error) {
	credential, err := o.certs.Load(company)
	if err != nil {
		o.recorder.Record(ctx, model.LogLevelError, categoryCertificate, "credential unusable", nil, model.Metadata{
			"company": company.Code, "error": err.Error(),
		})
		return nil, err
	}
	report := o.certs.Validate(credential)
	for _, w := range report.Warnings {
		o.recorder.Record(ctx, model.LogLevelWarn, categoryCertificate, w, nil, model.Metadata{"company": company.Code})
	}
	if !report.CanSign {
		o.recorder.Record(ctx, model.LogLevelError, categoryCertificate, "credential failed validation", nil, model.Metadata{
			"company": company.Code, "errors": report.Errors,
		})
		return nil, fmt.Errorf("certificate is not usable: %s", strings.Join(report.Errors, "; "))
	}
	return credential, nil
}

// prepareInTx creates the transaction, builds and checks the payload, and
// either completes it in place (bypass, pre-send failure) or marks it
// SENDING with the transport ready for the caller to fire.
func (o *Orchestrator) prepareInTx(ctx context.Context, tx *gorm.DB, req Request, strategy *Strategy, original *model.Transaction, bypass bool, credential *cert.Credential, inv *invocation, result *Result) error {
	now := o.now().UTC()

	seq, err := o.transactions.NextBusinessSequenceInTx(ctx, tx, req.Company.Code, now)
	if err != nil {
		return err
	}
	businessID := model.BusinessIDFor(req.Company.Code, now, seq)

	environment := req.Environment
	if bypass {
		environment = model.EnvironmentTesting
	}

	txn := &model.Transaction{
		BusinessID:   businessID,
		CompanyCode:  req.Company.Code,
		CompanyTaxID: req.Company.TaxID,
		Country:      req.Country,
		Operation:    req.Operation,
		Environment:  environment,
		Status:       model.TransactionStatusPending,
		MaxRetries:   o.cfg.MaxRetries,
		Backoff:      o.cfg.Backoff,
		Metadata:     o.buildMetadata(req, original, bypass),
		CreatedBy:    req.ActingUser,
	}
	if req.Snapshot.Voyage != nil {
		txn.VoyageRef = &req.Snapshot.Voyage.Number
	}
	if len(req.Snapshot.Shipments) > 0 {
		txn.ShipmentRef = &req.Snapshot.Shipments[0].Number
	}

	if err := o.transactions.CreateInTx(ctx, tx, txn); err != nil {
		return err
	}
	result.TransactionID = txn.ID
	result.BusinessID = businessID

	doc, err := strategy.Build(&xmlbuilder.Input{
		Snapshot:   req.Snapshot,
		Company:    req.Company,
		BusinessID: businessID,
	})
	if err != nil {
		// Build failures indicate a validation coverage gap; log with full
		// context and complete the transaction as a terminal error.
		o.recorder.Record(ctx, model.LogLevelError, categoryBuild, "payload build failed", &txn.ID, model.Metadata{
			"business_id": businessID, "operation": req.Operation, "error": err.Error(),
		})
		result.Errors = append(result.Errors, err.Error())
		inv.completed = true
		return o.transactions.MarkErrorInTx(ctx, tx, txn, codeBuildFailed, err.Error(), 0, false, now)
	}

	if report := xmlbuilder.ValidateStructure(doc); !report.IsValid {
		msg := strings.Join(report.Errors, "; ")
		o.recorder.Record(ctx, model.LogLevelError, categoryBuild, "payload failed structural check", &txn.ID, model.Metadata{
			"business_id": businessID, "errors": report.Errors,
		})
		result.Errors = append(result.Errors, msg)
		inv.completed = true
		return o.transactions.MarkErrorInTx(ctx, tx, txn, codeStructureFailed, msg, 0, false, now)
	}

	if bypass {
		inv.completed = true
		return o.completeBypass(ctx, tx, txn, doc, result)
	}

	if strategy.SignPayload {
		doc, err = o.certs.Sign(doc, credential)
		if err != nil {
			o.recorder.Record(ctx, model.LogLevelError, categoryCertificate, "payload signing failed", &txn.ID, model.Metadata{
				"business_id": businessID, "error": err.Error(),
			})
			result.Errors = append(result.Errors, err.Error())
			inv.completed = true
			return o.transactions.MarkErrorInTx(ctx, tx, txn, codeSigningFailed, err.Error(), 0, false, now)
		}
	}

	payload, err := docBytes(doc)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		inv.completed = true
		return o.transactions.MarkErrorInTx(ctx, tx, txn, codeBuildFailed, err.Error(), 0, false, now)
	}
	txn.RequestXML = string(payload)

	endpoint, err := soap.ResolveEndpoint(req.Country, req.Operation, environment, req.Company.EndpointOverrides)
	if err != nil {
		return err
	}
	transport, err := o.transports(endpoint, soap.Options{
		Timeout:            o.cfg.SendTimeout,
		InsecureSkipVerify: o.cfg.InsecureSkipVerify,
		ClientCredential:   credential,
	})
	if err != nil {
		return fmt.Errorf("failed to create transport for %s: %w", endpoint, err)
	}
	txn.EndpointURL = endpoint
	txn.SoapAction = strategy.SoapAction

	if err := o.transactions.MarkSendingInTx(ctx, tx, txn, now); err != nil {
		return err
	}
	o.recorder.Record(ctx, model.LogLevelInfo, categoryTransport, "sending request", &txn.ID, model.Metadata{
		"business_id": businessID, "endpoint": endpoint, "soap_action": strategy.SoapAction,
	})

	inv.txn = txn
	inv.payload = payload
	inv.transport = transport
	return nil
}

// interpret maps a send outcome onto the transaction lifecycle and persists
// the per-attempt response record.
func (o *Orchestrator) interpret(ctx context.Context, tx *gorm.DB, txn *model.Transaction, sendResult *soap.Result, sendErr error, result *Result) error {
	now := o.now().UTC()
	if sendResult != nil {
		txn.ResponseXML = sendResult.RawResponseXML
	}

	if sendErr != nil {
		var parseErr *soap.ResponseParsingError
		retryable := true
		code := codeTransport
		if errors.As(sendErr, &parseErr) {
			// The raw response is kept on the transaction for manual
			// inspection; it may indicate an upstream schema change.
			retryable = false
			code = codeResponseParse
		}
		o.recorder.Record(ctx, model.LogLevelError, categoryTransport, "send failed", &txn.ID, model.Metadata{
			"business_id": txn.BusinessID, "error": sendErr.Error(), "retryable": retryable,
		})
		result.Errors = append(result.Errors, sendErr.Error())
		latency := int64(0)
		if sendResult != nil {
			latency = sendResult.LatencyMs
		}
		return o.transactions.MarkErrorInTx(ctx, tx, txn, code, sendErr.Error(), latency, retryable, now)
	}

	o.archivePayloads(ctx, txn)

	if sendResult.Fault != nil {
		fault := sendResult.Fault
		record := &model.ResponseRecord{
			TransactionID: txn.ID,
			AttemptNumber: txn.AttemptCount,
			IsSuccess:     false,
			FaultCode:     &fault.Code,
			FaultMessage:  &fault.Message,
			LatencyMs:     sendResult.LatencyMs,
		}
		if err := o.responses.CreateInTx(ctx, tx, record); err != nil {
			return err
		}
		o.recorder.Record(ctx, model.LogLevelError, categoryTransport, "authority returned fault", &txn.ID, model.Metadata{
			"business_id": txn.BusinessID, "fault_code": fault.Code, "retryable": fault.Retryable(),
		})
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", fault.Code, fault.Message))
		return o.transactions.MarkErrorInTx(ctx, tx, txn, fault.Code, fault.Message, sendResult.LatencyMs, fault.Retryable(), now)
	}

	reference, payload, refErr := parseOperationResult(sendResult.Body)
	record := &model.ResponseRecord{
		TransactionID: txn.ID,
		AttemptNumber: txn.AttemptCount,
		IsSuccess:     refErr == nil,
		Payload:       payload,
		LatencyMs:     sendResult.LatencyMs,
	}
	if err := o.responses.CreateInTx(ctx, tx, record); err != nil {
		return err
	}

	if refErr != nil {
		var rejection *rejectionError
		code := codeResponseParse
		retryable := false
		if errors.As(refErr, &rejection) {
			code = codeRejected
		}
		o.recorder.Record(ctx, model.LogLevelError, categoryTransport, "authority response not accepted", &txn.ID, model.Metadata{
			"business_id": txn.BusinessID, "error": refErr.Error(),
		})
		result.Errors = append(result.Errors, refErr.Error())
		return o.transactions.MarkErrorInTx(ctx, tx, txn, code, refErr.Error(), sendResult.LatencyMs, retryable, now)
	}

	if err := o.transactions.MarkSuccessInTx(ctx, tx, txn, reference, sendResult.LatencyMs, now); err != nil {
		return err
	}
	o.recorder.Record(ctx, model.LogLevelInfo, categoryLifecycle, "operation accepted", &txn.ID, model.Metadata{
		"business_id": txn.BusinessID, "external_reference": reference, "latency_ms": sendResult.LatencyMs,
	})
	result.Success = true
	result.ExternalReference = &reference
	return nil
}

func (o *Orchestrator) buildMetadata(req Request, original *model.Transaction, bypass bool) model.Metadata {
	meta := model.Metadata{model.MetaActingUser: req.ActingUser}
	if bypass {
		meta[model.MetaSimulated] = true
	}
	if req.Snapshot.OriginalReference != "" {
		meta[model.MetaOriginalReference] = req.Snapshot.OriginalReference
	}
	if req.Snapshot.RectificationReason != "" {
		meta[model.MetaRectificationReason] = req.Snapshot.RectificationReason
	}
	for _, sh := range req.Snapshot.Shipments {
		if n := len(sh.ChildTitles); n > 0 {
			meta[model.MetaChildTitleCount] = n
			break
		}
	}
	return meta
}

// archivePayloads stores the raw documents in the payload archive, best
// effort: archival failure must not fail the customs operation.
func (o *Orchestrator) archivePayloads(ctx context.Context, txn *model.Transaction) {
	if o.payloads == nil {
		return
	}
	entries := map[string]string{
		txn.BusinessID + "/request.xml":  txn.RequestXML,
		txn.BusinessID + "/response.xml": txn.ResponseXML,
	}
	for key, content := range entries {
		if content == "" {
			continue
		}
		if err := o.payloads.Save(ctx, key, strings.NewReader(content), "application/xml"); err != nil {
			o.recorder.Record(ctx, model.LogLevelWarn, categoryLifecycle, "payload archive failed", &txn.ID, model.Metadata{
				"key": key, "error": err.Error(),
			})
		}
	}
}

// rejectionError is an application-level rejection carried in an otherwise
// well-formed response body.
type rejectionError struct {
	detail string
}

func (e *rejectionError) Error() string { return e.detail }

// parseOperationResult extracts the authority's external reference from the
// response body. A body listing errors is a rejection; a body with neither a
// reference nor errors is a parsing failure kept for manual inspection.
func parseOperationResult(body *etree.Element) (string, model.Metadata, error) {
	if body == nil {
		return "", nil, &soap.ResponseParsingError{Reason: "response carries no operation result"}
	}
	payload := model.Metadata{}
	for _, child := range body.ChildElements() {
		payload[child.Tag] = strings.TrimSpace(child.Text())
	}

	if errs := findChild(body, "Errores", "errores"); errs != nil {
		detail := "authority rejected the declaration"
		if children := errs.ChildElements(); len(children) > 0 {
			detail = strings.TrimSpace(children[0].Text())
		}
		return "", payload, &rejectionError{detail: detail}
	}

	if ref := findChild(body, "Identificador", "identificador", "NumeroReferencia", "numeroReferencia"); ref != nil {
		value := strings.TrimSpace(ref.Text())
		if value != "" {
			return value, payload, nil
		}
	}
	return "", payload, &soap.ResponseParsingError{Reason: "response carries no external reference"}
}

// findChild searches the element tree breadth-first for the first element
// with one of the given tags.
func findChild(root *etree.Element, tags ...string) *etree.Element {
	queue := []*etree.Element{root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, tag := range tags {
			if current.Tag == tag {
				return current
			}
		}
		queue = append(queue, current.ChildElements()...)
	}
	return nil
}

func docBytes(doc *etree.Document) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	return buf.Bytes(), nil
}
