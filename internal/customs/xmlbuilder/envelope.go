package xmlbuilder

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/hidrovia/customs/internal/customs/model"
)

// SOAP 1.2 envelope namespace.
const soapEnvelopeNS = "http://www.w3.org/2003/05/soap-envelope"

// opSpec describes the authority-fixed constants of one operation: the
// namespace and element of the operation, and the agent type and role values
// declared in the authentication block. These are external schema constants,
// not computed values.
type opSpec struct {
	Country   model.Country
	Operation model.OperationType
	Namespace string
	Element   string
	AgentType string
	AuthRole  string
}

// BuildFunc is one pure builder mapping an input to a complete SOAP document.
type BuildFunc func(in *Input) (*etree.Document, error)

// envelope wraps the operation parameter block in the SOAP 1.2 envelope with
// the operation's authentication sub-block.
func envelope(spec opSpec, in *Input, buildParams func(op *etree.Element) error) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)

	env := doc.CreateElement("soap12:Envelope")
	env.CreateAttr("xmlns:soap12", soapEnvelopeNS)
	body := env.CreateElement("soap12:Body")

	op := body.CreateElement(spec.Element)
	op.CreateAttr("xmlns", spec.Namespace)

	auth := op.CreateElement(authElementFor(spec.Country))
	if err := appendFields(auth, spec.Operation, in, authFields(spec)); err != nil {
		return nil, err
	}

	if err := buildParams(op); err != nil {
		return nil, err
	}
	return doc, nil
}

func authElementFor(country model.Country) string {
	if country == model.CountryParaguay {
		return "autenticacionEmpresa"
	}
	return "argWSAutenticacionEmpresa"
}

func authFields(spec opSpec) []Field {
	taxIDElement := "CuitEmpresaConectada"
	if spec.Country == model.CountryParaguay {
		taxIDElement = "RucEmpresa"
	}
	return []Field{
		{Name: taxIDElement, Required: true, Value: func(in *Input) (string, error) {
			if in.Company == nil {
				return "", fmt.Errorf("no company profile")
			}
			return digits(in.Company.TaxID), nil
		}},
		{Name: "TipoAgente", Required: true, Value: lit(spec.AgentType)},
		{Name: "Rol", Required: true, Value: lit(spec.AuthRole)},
	}
}

// StructureReport is the outcome of the structural post-check.
type StructureReport struct {
	IsValid bool
	Errors  []string
}

// ValidateStructure verifies the envelope/body wrapper and the operation
// namespace attribute before the document is handed to transport. It is a
// cheap sanity gate, not full XML Schema validation.
func ValidateStructure(doc *etree.Document) StructureReport {
	report := StructureReport{}
	root := doc.Root()
	if root == nil {
		report.Errors = append(report.Errors, "document has no root element")
		return report
	}
	if root.Tag != "Envelope" {
		report.Errors = append(report.Errors, fmt.Sprintf("root element is %s, expected Envelope", root.Tag))
	}
	body := root.SelectElement("Body")
	if body == nil {
		report.Errors = append(report.Errors, "envelope has no Body element")
		return report
	}
	ops := body.ChildElements()
	if len(ops) != 1 {
		report.Errors = append(report.Errors, fmt.Sprintf("body has %d operation elements, expected exactly 1", len(ops)))
		return report
	}
	if ops[0].SelectAttr("xmlns") == nil {
		report.Errors = append(report.Errors, fmt.Sprintf("operation element %s has no namespace attribute", ops[0].Tag))
	}
	report.IsValid = len(report.Errors) == 0
	return report
}

// builders is the (country, operation) registry of payload builders.
var builders = map[model.Country]map[model.OperationType]BuildFunc{
	model.CountryArgentina: {
		model.OperationRegisterMicDta:          BuildArgentinaMicDta,
		model.OperationRegisterManifest:        BuildArgentinaManifest,
		model.OperationRegisterAnticipatedInfo: BuildArgentinaAnticipatedInfo,
		model.OperationRectifyAnticipatedInfo:  BuildArgentinaRectifyAnticipatedInfo,
		model.OperationRegisterDeconsolidation: BuildArgentinaDeconsolidation,
		model.OperationRectifyDeconsolidation:  BuildArgentinaRectifyDeconsolidation,
		model.OperationDeleteDeconsolidation:   BuildArgentinaDeleteDeconsolidation,
		model.OperationRegisterTransshipment:   BuildArgentinaTransshipment,
		model.OperationRegisterEmptyContainers: BuildArgentinaEmptyContainers,
		model.OperationUpdateBargePosition:     BuildArgentinaBargePosition,
	},
	model.CountryParaguay: {
		model.OperationRegisterManifest:        BuildParaguayManifest,
		model.OperationRegisterDeconsolidation: BuildParaguayDeconsolidation,
		model.OperationRegisterTransshipment:   BuildParaguayTransshipment,
	},
}

// ForOperation returns the builder registered for the (country, operation) pair.
func ForOperation(country model.Country, op model.OperationType) (BuildFunc, error) {
	byOp, ok := builders[country]
	if !ok {
		return nil, fmt.Errorf("no builders registered for country %s", country)
	}
	build, ok := byOp[op]
	if !ok {
		return nil, fmt.Errorf("operation %s is not available for country %s", op, country)
	}
	return build, nil
}
