// Package soap creates transport clients bound to the authorities' SOAP
// endpoints and performs single synchronous calls, capturing the exact bytes
// sent and received for audit.
package soap

import (
	"fmt"

	"github.com/hidrovia/customs/internal/customs/model"
)

// SOAPAction header values, operation-specific string constants defined by
// the authorities.
var soapActions = map[model.Country]map[model.OperationType]string{
	model.CountryArgentina: {
		model.OperationRegisterMicDta:          "Ar.Gob.Afip.Dga.wgesregsintia2/RegistrarMicDta",
		model.OperationRegisterManifest:        "Ar.Gob.Afip.Dga.wgesregsintia2/RegistrarManifiesto",
		model.OperationRegisterEmptyContainers: "Ar.Gob.Afip.Dga.wgesregsintia2/RegistrarSalidaContenedoresVacios",
		model.OperationRegisterAnticipatedInfo: "Ar.Gob.Afip.Dga.wgesinformacionanticipada/RegistrarViaje",
		model.OperationRectifyAnticipatedInfo:  "Ar.Gob.Afip.Dga.wgesinformacionanticipada/RectificarViaje",
		model.OperationRegisterDeconsolidation: "Ar.Gob.Afip.Dga.wgesdesconsolidados/RegistrarDesconsolidado",
		model.OperationRectifyDeconsolidation:  "Ar.Gob.Afip.Dga.wgesdesconsolidados/RectificarDesconsolidado",
		model.OperationDeleteDeconsolidation:   "Ar.Gob.Afip.Dga.wgesdesconsolidados/EliminarDesconsolidado",
		model.OperationRegisterTransshipment:   "Ar.Gob.Afip.Dga.wgestransbordos/RegistrarTransbordo",
		model.OperationUpdateBargePosition:     "Ar.Gob.Afip.Dga.wgestransbordos/ActualizarPosicion",
	},
	model.CountryParaguay: {
		model.OperationRegisterManifest:        "py.gov.aduana.wsgesmic/enviarManifiesto",
		model.OperationRegisterDeconsolidation: "py.gov.aduana.wsgesmic/enviarDesconsolidado",
		model.OperationRegisterTransshipment:   "py.gov.aduana.wsgesmic/enviarTransbordo",
	},
}

// Static default endpoints per country, operation group and environment.
var defaultEndpoints = map[model.Country]map[model.Environment]map[string]string{
	model.CountryArgentina: {
		model.EnvironmentTesting: {
			"wgesregsintia2":            "https://wsaduhomoext.afip.gob.ar/DIAV2/wgesregsintia2/wgesregsintia2.asmx",
			"wgesinformacionanticipada": "https://wsaduhomoext.afip.gob.ar/DIAV2/wgesinformacionanticipada/wgesinformacionanticipada.asmx",
			"wgesdesconsolidados":       "https://wsaduhomoext.afip.gob.ar/DIAV2/wgesdesconsolidados/wgesdesconsolidados.asmx",
			"wgestransbordos":           "https://wsaduhomoext.afip.gob.ar/DIAV2/wgestransbordos/wgestransbordos.asmx",
		},
		model.EnvironmentProduction: {
			"wgesregsintia2":            "https://webservicesadu.afip.gob.ar/DIAV2/wgesregsintia2/wgesregsintia2.asmx",
			"wgesinformacionanticipada": "https://webservicesadu.afip.gob.ar/DIAV2/wgesinformacionanticipada/wgesinformacionanticipada.asmx",
			"wgesdesconsolidados":       "https://webservicesadu.afip.gob.ar/DIAV2/wgesdesconsolidados/wgesdesconsolidados.asmx",
			"wgestransbordos":           "https://webservicesadu.afip.gob.ar/DIAV2/wgestransbordos/wgestransbordos.asmx",
		},
	},
	model.CountryParaguay: {
		model.EnvironmentTesting: {
			"wsgesmic": "https://test.aduana.gov.py/wsgesmic/servicio.asmx",
		},
		model.EnvironmentProduction: {
			"wsgesmic": "https://secure.aduana.gov.py/wsgesmic/servicio.asmx",
		},
	},
}

// serviceGroup maps an operation to the webservice hosting it.
func serviceGroup(country model.Country, op model.OperationType) string {
	if country == model.CountryParaguay {
		return "wsgesmic"
	}
	switch op {
	case model.OperationRegisterAnticipatedInfo, model.OperationRectifyAnticipatedInfo:
		return "wgesinformacionanticipada"
	case model.OperationRegisterDeconsolidation, model.OperationRectifyDeconsolidation, model.OperationDeleteDeconsolidation:
		return "wgesdesconsolidados"
	case model.OperationRegisterTransshipment, model.OperationUpdateBargePosition:
		return "wgestransbordos"
	default:
		return "wgesregsintia2"
	}
}

// ActionFor returns the SOAPAction constant for the (country, operation) pair.
func ActionFor(country model.Country, op model.OperationType) (string, error) {
	action, ok := soapActions[country][op]
	if !ok {
		return "", fmt.Errorf("no SOAP action defined for %s %s", country, op)
	}
	return action, nil
}

// ResolveEndpoint picks the endpoint URL for the invocation. A company
// override keyed "{operation}|{environment}" takes precedence over the static
// defaults; no resolvable URL at all is a hard configuration error.
func ResolveEndpoint(country model.Country, op model.OperationType, env model.Environment, overrides map[string]string) (string, error) {
	if url, ok := overrides[fmt.Sprintf("%s|%s", op, env)]; ok && url != "" {
		return url, nil
	}
	if url, ok := defaultEndpoints[country][env][serviceGroup(country, op)]; ok && url != "" {
		return url, nil
	}
	return "", fmt.Errorf("no endpoint configured for %s %s in %s", country, op, env)
}
