package xmlbuilder

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/hidrovia/customs/internal/customs/model"
)

// DNA webservice namespace and authentication constants.
const (
	dnaNSGesMic = "py.gov.aduana.wsgesmic"

	dnaAgentTransportista = "TRANSPORTISTA"

	dnaRoleCargas = "CARGAS"
	dnaRoleDesc   = "DESCONSOLIDADOR"
	dnaRoleTrsb   = "TRANSBORDOS"
)

// dnaManifestFields is the voyage-level table DNA requires on a manifest send.
// DNA's schema is flatter than AFIP's: vessel and captain data hang directly
// off the operation element.
func dnaManifestFields() []Field {
	return []Field{
		{Name: "idTransaccion", Required: true, Value: func(in *Input) (string, error) {
			return transactionID(in.BusinessID), nil
		}},
		{Name: "numeroViaje", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.Number, nil
		}},
		{Name: "nombreEmbarcacion", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.Vessel.Name, nil
		}},
		{Name: "matriculaEmbarcacion", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.Vessel.Registration, nil
		}},
		{Name: "tipoEmbarcacion", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.Vessel.TypeCode, nil
		}},
		{Name: "nombreCapitan", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.Captain.Name, nil
		}},
		{Name: "puertoOrigen", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.OriginPort, nil
		}},
		{Name: "puertoDestino", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.DestinationPort, nil
		}},
		{Name: "fechaSalida", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return isoDate(v.DepartureDate), nil
		}},
		{Name: "modalidadTransporte", Required: true, Value: lit(model.TransportModeRiver)},
	}
}

func appendDNATitles(op *etree.Element, operation model.OperationType, in *Input) error {
	if len(in.Snapshot.Shipments) == 0 {
		return &BuildError{Operation: operation, Field: "conocimientos", Reason: "voyage has no shipments"}
	}
	wrapper := op.CreateElement("conocimientos")
	for _, sh := range in.Snapshot.Shipments {
		fields := []Field{
			{Name: "numeroConocimiento", Required: true, Value: lit(billOfLading(sh.BillOfLading))},
			{Name: "puertoCarga", Required: true, Value: lit(sh.OriginPort)},
			{Name: "puertoDescarga", Required: true, Value: lit(sh.DestPort)},
			{Name: "pesoBrutoKg", Required: true, Value: func(*Input) (string, error) { return kg(sh.GrossWeightKg), nil }},
			{Name: "cantidadContenedores", Required: false, Value: lit(countOrEmpty(len(sh.Containers)))},
		}
		if err := appendFields(wrapper.CreateElement("conocimiento"), operation, in, fields); err != nil {
			return err
		}
	}
	return nil
}

func countOrEmpty(n int) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%d", n)
}

// BuildParaguayManifest builds the enviarManifiesto payload for DNA.
func BuildParaguayManifest(in *Input) (*etree.Document, error) {
	spec := opSpec{
		Country:   model.CountryParaguay,
		Operation: model.OperationRegisterManifest,
		Namespace: dnaNSGesMic,
		Element:   "enviarManifiesto",
		AgentType: dnaAgentTransportista,
		AuthRole:  dnaRoleCargas,
	}
	return envelope(spec, in, func(op *etree.Element) error {
		if err := appendFields(op, spec.Operation, in, dnaManifestFields()); err != nil {
			return err
		}
		return appendDNATitles(op, spec.Operation, in)
	})
}

// BuildParaguayDeconsolidation builds the enviarDesconsolidado payload.
func BuildParaguayDeconsolidation(in *Input) (*etree.Document, error) {
	spec := opSpec{
		Country:   model.CountryParaguay,
		Operation: model.OperationRegisterDeconsolidation,
		Namespace: dnaNSGesMic,
		Element:   "enviarDesconsolidado",
		AgentType: dnaAgentTransportista,
		AuthRole:  dnaRoleDesc,
	}
	return envelope(spec, in, func(op *etree.Element) error {
		idField := []Field{{Name: "idTransaccion", Required: true, Value: func(in *Input) (string, error) {
			return transactionID(in.BusinessID), nil
		}}}
		if err := appendFields(op, spec.Operation, in, idField); err != nil {
			return err
		}
		return appendChildTitles(op, spec.Operation, in)
	})
}

// BuildParaguayTransshipment builds the enviarTransbordo payload.
func BuildParaguayTransshipment(in *Input) (*etree.Document, error) {
	spec := opSpec{
		Country:   model.CountryParaguay,
		Operation: model.OperationRegisterTransshipment,
		Namespace: dnaNSGesMic,
		Element:   "enviarTransbordo",
		AgentType: dnaAgentTransportista,
		AuthRole:  dnaRoleTrsb,
	}
	return envelope(spec, in, func(op *etree.Element) error {
		if err := appendFields(op, spec.Operation, in, dnaManifestFields()); err != nil {
			return err
		}
		v, err := voyage(in)
		if err != nil {
			return &BuildError{Operation: spec.Operation, Field: "barcazas", Reason: err.Error()}
		}
		if len(v.Barges) == 0 {
			return &BuildError{Operation: spec.Operation, Field: "barcazas", Reason: "transshipment declares no barges"}
		}
		barges := op.CreateElement("barcazas")
		for _, barge := range v.Barges {
			fields := []Field{
				{Name: "matricula", Required: true, Value: lit(barge.Registration)},
			}
			if err := appendFields(barges.CreateElement("barcaza"), spec.Operation, in, fields); err != nil {
				return err
			}
		}
		return nil
	})
}
