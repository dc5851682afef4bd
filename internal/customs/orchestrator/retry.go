package orchestrator

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/hidrovia/customs/internal/customs/cert"
	"github.com/hidrovia/customs/internal/customs/model"
	"github.com/hidrovia/customs/internal/customs/soap"
)

// RetryRequest asks for another attempt of an errored transaction. Retries
// are caller-driven; the engine never retries in the background.
type RetryRequest struct {
	BusinessID string
	Company    *model.CompanyProfile
}

// Retry re-sends the stored request document of a retryable transaction,
// updating the same row and incrementing its attempt count. It refuses a
// retry of a terminal failure, before the transaction's eligible time, once
// the attempt budget is exhausted, and when the supplied company profile is
// not the one that owns the transaction.
func (o *Orchestrator) Retry(ctx context.Context, req RetryRequest) *Result {
	txn, err := o.transactions.GetByBusinessID(ctx, req.BusinessID)
	if err != nil {
		return failure([]string{fmt.Sprintf("cannot retry %s: %v", req.BusinessID, err)}, nil)
	}
	if err := txn.CanRetry(o.now()); err != nil {
		o.recorder.Record(ctx, model.LogLevelWarn, categoryLifecycle, "retry refused", &txn.ID, model.Metadata{
			"business_id": txn.BusinessID, "reason": err.Error(),
		})
		return failure([]string{err.Error()}, nil)
	}
	if txn.RequestXML == "" || txn.EndpointURL == "" || txn.SoapAction == "" {
		return failure([]string{fmt.Sprintf("transaction %s has no replayable request", txn.BusinessID)}, nil)
	}

	// The supplied profile must be the one the transaction was created for;
	// its credential is what authenticates the resend.
	if req.Company == nil {
		return failure([]string{fmt.Sprintf("cannot retry %s: no company webservice profile provided", txn.BusinessID)}, nil)
	}
	if req.Company.Code != txn.CompanyCode {
		o.recorder.Record(ctx, model.LogLevelWarn, categoryLifecycle, "retry refused", &txn.ID, model.Metadata{
			"business_id": txn.BusinessID, "company": req.Company.Code, "owner": txn.CompanyCode,
		})
		return failure([]string{fmt.Sprintf("cannot retry %s: company profile %s does not match %s", txn.BusinessID, req.Company.Code, txn.CompanyCode)}, nil)
	}

	var credential *cert.Credential
	if !req.Company.Bypass {
		credential, err = o.preflightCredential(ctx, req.Company)
		if err != nil {
			return failure([]string{err.Error()}, nil)
		}
	}

	transport, err := o.transports(txn.EndpointURL, soap.Options{
		Timeout:            o.cfg.SendTimeout,
		InsecureSkipVerify: o.cfg.InsecureSkipVerify,
		ClientCredential:   credential,
	})
	if err != nil {
		return failure([]string{fmt.Sprintf("failed to create transport for %s: %v", txn.EndpointURL, err)}, nil)
	}

	result := &Result{TransactionID: txn.ID, BusinessID: txn.BusinessID}
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := o.transactions.MarkRetryInTx(ctx, tx, txn); err != nil {
			return err
		}
		return o.transactions.MarkSendingInTx(ctx, tx, txn, o.now().UTC())
	})
	if err != nil {
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	o.recorder.Record(ctx, model.LogLevelInfo, categoryTransport, "retrying request", &txn.ID, model.Metadata{
		"business_id": txn.BusinessID, "attempt": txn.AttemptCount,
	})

	sendResult, sendErr := transport.Send(ctx, txn.SoapAction, []byte(txn.RequestXML))
	return o.finishSend(ctx, txn, sendResult, sendErr, result)
}
