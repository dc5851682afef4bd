package cert

import (
	"crypto"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// Sign embeds a standard enveloped XML signature (SHA-256 digest, RSA-SHA256
// signature, exclusive canonicalization) into the document's root element.
// The credential must pass Validate with CanSign before signing is attempted.
func (s *Store) Sign(doc *etree.Document, cred *Credential) (*etree.Document, error) {
	report := s.Validate(cred)
	if !report.CanSign {
		return nil, fmt.Errorf("%w: %v", ErrNotSignable, report.Errors)
	}

	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("cannot sign an empty document")
	}

	signingCtx := dsig.NewDefaultSigningContext(cred)
	signingCtx.Hash = crypto.SHA256
	if err := signingCtx.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return nil, fmt.Errorf("failed to configure signature method: %w", err)
	}

	signed, err := signingCtx.SignEnveloped(root)
	if err != nil {
		return nil, fmt.Errorf("failed to sign document: %w", err)
	}

	// Rebuild the document around the signed root. The XML declaration
	// does not travel with the root element, so it is restated here.
	signedDoc := etree.NewDocument()
	signedDoc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	signedDoc.SetRoot(signed)
	return signedDoc, nil
}
