package xmlbuilder

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/hidrovia/customs/internal/customs/model"
)

// AFIP webservice namespaces, fixed by the published schemas.
const (
	afipNSRegSintia      = "Ar.Gob.Afip.Dga.wgesregsintia2"
	afipNSAnticipada     = "Ar.Gob.Afip.Dga.wgesinformacionanticipada"
	afipNSDesconsolidado = "Ar.Gob.Afip.Dga.wgesdesconsolidados"
	afipNSTransbordo     = "Ar.Gob.Afip.Dga.wgestransbordos"
)

// AFIP agent type and role constants declared in the authentication block.
const (
	afipAgentATA = "ATA" // Agente de Transporte Aduanero

	afipRoleCargas = "CARGAS"
	afipRoleDesc   = "DESC"
	afipRoleTrsb   = "TRSB"
)

// micDtaHeaderFields is the voyage-level table for the MIC/DTA operation.
// Required entries fail the build when absent; IndicadorEnLastre has a
// computed default derived from declared cargo weight and never fails.
func micDtaHeaderFields() []Field {
	return []Field{
		{Name: "IdTransaccion", Required: true, Value: func(in *Input) (string, error) {
			return transactionID(in.BusinessID), nil
		}},
		{Name: "CodigoMedioTransporte", Required: true, Value: lit(model.TransportModeRiver)},
		{Name: "NumeroViaje", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.Number, nil
		}},
		{Name: "NombreMedioTransporte", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.Vessel.Name, nil
		}},
		{Name: "MatriculaMedioTransporte", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.Vessel.Registration, nil
		}},
		{Name: "CodigoTipoEmbarcacion", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.Vessel.TypeCode, nil
		}},
		{Name: "CodigoPaisMedioTransporte", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.Vessel.FlagCountry, nil
		}},
		{Name: "NombreCapitan", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.Captain.Name, nil
		}},
		{Name: "LicenciaCapitan", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.Captain.License, nil
		}},
		{Name: "CodigoAduanaSalida", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.OriginPort, nil
		}},
		{Name: "CodigoAduanaArribo", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return v.DestinationPort, nil
		}},
		{Name: "FechaSalida", Required: true, Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			return isoDate(v.DepartureDate), nil
		}},
		{Name: "IndicadorEnLastre", Required: true, Value: func(in *Input) (string, error) {
			return ballastIndicator(in.Snapshot), nil
		}},
	}
}

// titleFields is the per-shipment table shared by the manifest-shaped operations.
func titleFields(sh model.Shipment) []Field {
	return []Field{
		{Name: "NumeroTitulo", Required: true, Value: lit(sh.Number)},
		{Name: "IdentificadorConocimiento", Required: true, Value: lit(billOfLading(sh.BillOfLading))},
		{Name: "CodigoPuertoCarga", Required: true, Value: lit(sh.OriginPort)},
		{Name: "CodigoPuertoDescarga", Required: true, Value: lit(sh.DestPort)},
		{Name: "PesoBruto", Required: true, Value: func(*Input) (string, error) { return kg(sh.GrossWeightKg), nil }},
	}
}

func appendTitles(op *etree.Element, operation model.OperationType, in *Input, withContainers bool) error {
	if len(in.Snapshot.Shipments) == 0 {
		return &BuildError{Operation: operation, Field: "Titulos", Reason: "voyage has no shipments"}
	}
	titles := op.CreateElement("Titulos")
	for _, sh := range in.Snapshot.Shipments {
		title := titles.CreateElement("Titulo")
		if err := appendFields(title, operation, in, titleFields(sh)); err != nil {
			return err
		}
		if err := appendCargoLines(title, operation, in, sh); err != nil {
			return err
		}
		if withContainers && len(sh.Containers) > 0 {
			if err := appendContainers(title, operation, in, sh.Containers, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func appendCargoLines(title *etree.Element, operation model.OperationType, in *Input, sh model.Shipment) error {
	if len(sh.CargoLines) == 0 {
		return nil
	}
	lines := title.CreateElement("Mercaderias")
	for _, line := range sh.CargoLines {
		fields := []Field{
			{Name: "Descripcion", Required: true, Value: lit(line.Description)},
			{Name: "PosicionArancelaria", Required: false, Value: lit(line.HSCode)},
			{Name: "CantidadBultos", Required: true, Value: lit(fmt.Sprintf("%d", line.PackageCount))},
			{Name: "PesoBruto", Required: true, Value: func(*Input) (string, error) { return kg(line.WeightKg), nil }},
		}
		if err := appendFields(lines.CreateElement("Mercaderia"), operation, in, fields); err != nil {
			return err
		}
	}
	return nil
}

func appendContainers(parent *etree.Element, operation model.OperationType, in *Input, containers []model.Container, emptyOnly bool) error {
	wrapper := parent.CreateElement("Contenedores")
	appended := 0
	for _, c := range containers {
		if emptyOnly && !c.IsEmpty {
			continue
		}
		condition := "P" // con carga
		if c.IsEmpty {
			condition = "V" // vacío
		}
		fields := []Field{
			{Name: "IdentificadorContenedor", Required: true, Value: lit(c.Number)},
			{Name: "CodigoTipoContenedor", Required: true, Value: lit(c.ISOType)},
			{Name: "CondicionContenedor", Required: true, Value: lit(condition)},
			{Name: "Precinto", Required: false, Value: lit(c.SealCode)},
		}
		if err := appendFields(wrapper.CreateElement("Contenedor"), operation, in, fields); err != nil {
			return err
		}
		appended++
	}
	if appended == 0 {
		return &BuildError{Operation: operation, Field: "Contenedores", Reason: "no containers to declare"}
	}
	return nil
}

// BuildArgentinaMicDta builds the RegistrarMicDta payload: voyage header,
// titles with cargo and containers.
func BuildArgentinaMicDta(in *Input) (*etree.Document, error) {
	spec := opSpec{
		Country:   model.CountryArgentina,
		Operation: model.OperationRegisterMicDta,
		Namespace: afipNSRegSintia,
		Element:   "RegistrarMicDta",
		AgentType: afipAgentATA,
		AuthRole:  afipRoleCargas,
	}
	return envelope(spec, in, func(op *etree.Element) error {
		if err := appendFields(op, spec.Operation, in, micDtaHeaderFields()); err != nil {
			return err
		}
		return appendTitles(op, spec.Operation, in, true)
	})
}

// BuildArgentinaManifest builds the RegistrarManifiesto payload. It shares the
// MIC/DTA header and title shape but carries no container detail.
func BuildArgentinaManifest(in *Input) (*etree.Document, error) {
	spec := opSpec{
		Country:   model.CountryArgentina,
		Operation: model.OperationRegisterManifest,
		Namespace: afipNSRegSintia,
		Element:   "RegistrarManifiesto",
		AgentType: afipAgentATA,
		AuthRole:  afipRoleCargas,
	}
	return envelope(spec, in, func(op *etree.Element) error {
		if err := appendFields(op, spec.Operation, in, micDtaHeaderFields()); err != nil {
			return err
		}
		return appendTitles(op, spec.Operation, in, false)
	})
}

// anticipatedFields is the pre-arrival declaration table.
func anticipatedFields() []Field {
	fields := micDtaHeaderFields()
	// The anticipated declaration additionally carries the vessel capacity so
	// the authority can cross-check later container declarations.
	return append(fields, Field{
		Name: "CapacidadContenedores", Required: false,
		Value: func(in *Input) (string, error) {
			v, err := voyage(in)
			if err != nil {
				return "", err
			}
			if v.Vessel.CapacityTEU <= 0 {
				return "", nil
			}
			return fmt.Sprintf("%d", v.Vessel.CapacityTEU), nil
		},
	})
}

// BuildArgentinaAnticipatedInfo builds the RegistrarViaje payload.
func BuildArgentinaAnticipatedInfo(in *Input) (*etree.Document, error) {
	spec := opSpec{
		Country:   model.CountryArgentina,
		Operation: model.OperationRegisterAnticipatedInfo,
		Namespace: afipNSAnticipada,
		Element:   "RegistrarViaje",
		AgentType: afipAgentATA,
		AuthRole:  afipRoleCargas,
	}
	return envelope(spec, in, func(op *etree.Element) error {
		return appendFields(op, spec.Operation, in, anticipatedFields())
	})
}

// BuildArgentinaRectifyAnticipatedInfo builds the RectificarViaje payload: the
// registration shape plus the original reference and the rectification reason.
func BuildArgentinaRectifyAnticipatedInfo(in *Input) (*etree.Document, error) {
	spec := opSpec{
		Country:   model.CountryArgentina,
		Operation: model.OperationRectifyAnticipatedInfo,
		Namespace: afipNSAnticipada,
		Element:   "RectificarViaje",
		AgentType: afipAgentATA,
		AuthRole:  afipRoleCargas,
	}
	return envelope(spec, in, func(op *etree.Element) error {
		fields := append(derivativeFields(spec.Operation, true), anticipatedFields()...)
		return appendFields(op, spec.Operation, in, fields)
	})
}

// derivativeFields are the reference fields every rectify/delete operation leads with.
func derivativeFields(op model.OperationType, withReason bool) []Field {
	fields := []Field{
		{Name: "IdentificadorOriginal", Required: true, Value: func(in *Input) (string, error) {
			return in.Snapshot.OriginalReference, nil
		}},
	}
	if withReason {
		fields = append(fields, Field{
			Name: "MotivoRectificacion", Required: true,
			Value: func(in *Input) (string, error) {
				return in.Snapshot.RectificationReason, nil
			},
		})
	}
	return fields
}

func appendChildTitles(op *etree.Element, operation model.OperationType, in *Input) error {
	var parent *model.Shipment
	for i := range in.Snapshot.Shipments {
		if len(in.Snapshot.Shipments[i].ChildTitles) > 0 {
			parent = &in.Snapshot.Shipments[i]
			break
		}
	}
	if parent == nil {
		return &BuildError{Operation: operation, Field: "TitulosHijos", Reason: "no shipment with child titles"}
	}

	parentFields := []Field{
		{Name: "TituloMadre", Required: true, Value: lit(billOfLading(parent.BillOfLading))},
		{Name: "PesoBrutoMadre", Required: true, Value: func(*Input) (string, error) { return kg(parent.GrossWeightKg), nil }},
	}
	if err := appendFields(op, operation, in, parentFields); err != nil {
		return err
	}

	children := op.CreateElement("TitulosHijos")
	for _, child := range parent.ChildTitles {
		fields := []Field{
			{Name: "NumeroTituloHijo", Required: true, Value: lit(billOfLading(child.Number))},
			{Name: "Consignatario", Required: true, Value: lit(child.Consignee)},
			{Name: "CantidadBultos", Required: true, Value: lit(fmt.Sprintf("%d", child.PackageCount))},
			{Name: "PesoBruto", Required: true, Value: func(*Input) (string, error) { return kg(child.GrossWeightKg), nil }},
		}
		if err := appendFields(children.CreateElement("TituloHijo"), operation, in, fields); err != nil {
			return err
		}
	}
	return nil
}

// BuildArgentinaDeconsolidation builds the RegistrarDesconsolidado payload:
// the parent title and its child titles.
func BuildArgentinaDeconsolidation(in *Input) (*etree.Document, error) {
	spec := opSpec{
		Country:   model.CountryArgentina,
		Operation: model.OperationRegisterDeconsolidation,
		Namespace: afipNSDesconsolidado,
		Element:   "RegistrarDesconsolidado",
		AgentType: afipAgentATA,
		AuthRole:  afipRoleDesc,
	}
	return envelope(spec, in, func(op *etree.Element) error {
		idField := []Field{{Name: "IdTransaccion", Required: true, Value: func(in *Input) (string, error) {
			return transactionID(in.BusinessID), nil
		}}}
		if err := appendFields(op, spec.Operation, in, idField); err != nil {
			return err
		}
		return appendChildTitles(op, spec.Operation, in)
	})
}

// BuildArgentinaRectifyDeconsolidation builds the RectificarDesconsolidado
// payload, reusing the registration shape behind the original reference.
func BuildArgentinaRectifyDeconsolidation(in *Input) (*etree.Document, error) {
	spec := opSpec{
		Country:   model.CountryArgentina,
		Operation: model.OperationRectifyDeconsolidation,
		Namespace: afipNSDesconsolidado,
		Element:   "RectificarDesconsolidado",
		AgentType: afipAgentATA,
		AuthRole:  afipRoleDesc,
	}
	return envelope(spec, in, func(op *etree.Element) error {
		if err := appendFields(op, spec.Operation, in, derivativeFields(spec.Operation, true)); err != nil {
			return err
		}
		return appendChildTitles(op, spec.Operation, in)
	})
}

// BuildArgentinaDeleteDeconsolidation builds the EliminarDesconsolidado
// payload: only the original reference, no cargo data.
func BuildArgentinaDeleteDeconsolidation(in *Input) (*etree.Document, error) {
	spec := opSpec{
		Country:   model.CountryArgentina,
		Operation: model.OperationDeleteDeconsolidation,
		Namespace: afipNSDesconsolidado,
		Element:   "EliminarDesconsolidado",
		AgentType: afipAgentATA,
		AuthRole:  afipRoleDesc,
	}
	return envelope(spec, in, func(op *etree.Element) error {
		return appendFields(op, spec.Operation, in, derivativeFields(spec.Operation, false))
	})
}

// BuildArgentinaTransshipment builds the RegistrarTransbordo payload: voyage
// header plus the barges involved in the transfer.
func BuildArgentinaTransshipment(in *Input) (*etree.Document, error) {
	spec := opSpec{
		Country:   model.CountryArgentina,
		Operation: model.OperationRegisterTransshipment,
		Namespace: afipNSTransbordo,
		Element:   "RegistrarTransbordo",
		AgentType: afipAgentATA,
		AuthRole:  afipRoleTrsb,
	}
	return envelope(spec, in, func(op *etree.Element) error {
		if err := appendFields(op, spec.Operation, in, micDtaHeaderFields()); err != nil {
			return err
		}
		v, err := voyage(in)
		if err != nil {
			return &BuildError{Operation: spec.Operation, Field: "Barcazas", Reason: err.Error()}
		}
		if len(v.Barges) == 0 {
			return &BuildError{Operation: spec.Operation, Field: "Barcazas", Reason: "transshipment declares no barges"}
		}
		barges := op.CreateElement("Barcazas")
		for _, barge := range v.Barges {
			fields := []Field{
				{Name: "MatriculaBarcaza", Required: true, Value: lit(barge.Registration)},
			}
			if err := appendFields(barges.CreateElement("Barcaza"), spec.Operation, in, fields); err != nil {
				return err
			}
		}
		return nil
	})
}

// BuildArgentinaEmptyContainers builds the RegistrarSalidaContenedoresVacios
// payload. The build fails when no empty container exists to declare.
func BuildArgentinaEmptyContainers(in *Input) (*etree.Document, error) {
	spec := opSpec{
		Country:   model.CountryArgentina,
		Operation: model.OperationRegisterEmptyContainers,
		Namespace: afipNSRegSintia,
		Element:   "RegistrarSalidaContenedoresVacios",
		AgentType: afipAgentATA,
		AuthRole:  afipRoleCargas,
	}
	return envelope(spec, in, func(op *etree.Element) error {
		if err := appendFields(op, spec.Operation, in, micDtaHeaderFields()); err != nil {
			return err
		}
		var all []model.Container
		for _, sh := range in.Snapshot.Shipments {
			all = append(all, sh.Containers...)
		}
		return appendContainers(op, spec.Operation, in, all, true)
	})
}

// BuildArgentinaBargePosition builds the ActualizarPosicion payload for one
// barge of an in-route transshipment. The position report time is a date-time
// field taken from the snapshot, never from the wall clock, so output stays
// deterministic.
func BuildArgentinaBargePosition(in *Input) (*etree.Document, error) {
	spec := opSpec{
		Country:   model.CountryArgentina,
		Operation: model.OperationUpdateBargePosition,
		Namespace: afipNSTransbordo,
		Element:   "ActualizarPosicion",
		AgentType: afipAgentATA,
		AuthRole:  afipRoleTrsb,
	}
	return envelope(spec, in, func(op *etree.Element) error {
		v, err := voyage(in)
		if err != nil {
			return &BuildError{Operation: spec.Operation, Field: "Barcaza", Reason: err.Error()}
		}
		var barge *model.Barge
		for i := range v.Barges {
			if v.Barges[i].Position != nil {
				barge = &v.Barges[i]
				break
			}
		}
		if barge == nil {
			return &BuildError{Operation: spec.Operation, Field: "Posicion", Reason: "no barge carries a position report"}
		}
		fields := []Field{
			{Name: "IdentificadorOriginal", Required: true, Value: func(in *Input) (string, error) {
				return in.Snapshot.OriginalReference, nil
			}},
			{Name: "MatriculaBarcaza", Required: true, Value: lit(barge.Registration)},
			{Name: "Latitud", Required: true, Value: lit(fmt.Sprintf("%.6f", barge.Position.Latitude))},
			{Name: "Longitud", Required: true, Value: lit(fmt.Sprintf("%.6f", barge.Position.Longitude))},
			{Name: "FechaHoraPosicion", Required: true, Value: func(*Input) (string, error) {
				return isoDateTime(barge.Position.ReportedAt), nil
			}},
		}
		return appendFields(op, spec.Operation, in, fields)
	})
}
