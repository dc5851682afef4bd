package model

import "time"

// Vessel type codes fixed by the authority schema.
const (
	VesselTypeBarge  = "BAR" // Barcaza
	VesselTypePusher = "EMP" // Empujador
	VesselTypeMotor  = "BUM" // Buque motor
)

// TransportModeRiver is the authority's transport-mode code for river transport.
const TransportModeRiver = "8"

// Vessel describes the vessel performing a voyage.
type Vessel struct {
	Name         string `json:"name"`
	Registration string `json:"registration"`
	TypeCode     string `json:"typeCode"`     // BAR, EMP or BUM
	FlagCountry  string `json:"flagCountry"`  // ISO 3166-1 alpha-2
	CapacityTEU  int    `json:"capacityTeu"`  // Declared container capacity
	GrossTonnage int64  `json:"grossTonnage"` // Kilograms
}

// Captain identifies the master of the vessel.
type Captain struct {
	Name    string `json:"name"`
	License string `json:"license"`
}

// Barge is a towed unit in a convoy, tracked individually for transshipment.
type Barge struct {
	Registration string    `json:"registration"`
	Position     *Position `json:"position,omitempty"`
}

// Position is a geographic barge position report.
type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ReportedAt time.Time `json:"reportedAt"`
}

// Container is one container declared on a shipment.
type Container struct {
	Number   string `json:"number"`
	ISOType  string `json:"isoType"` // e.g. 42G1
	IsEmpty  bool   `json:"isEmpty"`
	SealCode string `json:"sealCode,omitempty"`
}

// CargoLine is one line item of cargo on a shipment.
type CargoLine struct {
	Description  string `json:"description"`
	HSCode       string `json:"hsCode,omitempty"`
	PackageCount int    `json:"packageCount"`
	WeightKg     int64  `json:"weightKg"`
}

// ChildTitle is a house bill produced by deconsolidating a master title.
type ChildTitle struct {
	Number        string `json:"number"`
	Consignee     string `json:"consignee"`
	GrossWeightKg int64  `json:"grossWeightKg"`
	PackageCount  int    `json:"packageCount"`
}

// Shipment is one bill of lading within a voyage.
type Shipment struct {
	Number        string       `json:"number"`
	BillOfLading  string       `json:"billOfLading"`
	OriginPort    string       `json:"originPort"`
	DestPort      string       `json:"destPort"`
	GrossWeightKg int64        `json:"grossWeightKg"`
	Containers    []Container  `json:"containers,omitempty"`
	CargoLines    []CargoLine  `json:"cargoLines,omitempty"`
	ChildTitles   []ChildTitle `json:"childTitles,omitempty"`
}

// Voyage is the fully resolved voyage graph the engine serializes.
type Voyage struct {
	Number          string    `json:"number"`
	DepartureDate   time.Time `json:"departureDate"`
	OriginPort      string    `json:"originPort"`
	DestinationPort string    `json:"destinationPort"`
	Vessel          Vessel    `json:"vessel"`
	Captain         Captain   `json:"captain"`
	Barges          []Barge   `json:"barges,omitempty"`
}

// Snapshot is the immutable domain view an orchestration invocation works on.
// It is fully loaded by the caller; the engine performs no further I/O on it.
type Snapshot struct {
	Voyage    *Voyage    `json:"voyage,omitempty"`
	Shipments []Shipment `json:"shipments,omitempty"`

	// OriginalReference is the authority reference of the declaration a
	// rectify/delete operation derives from.
	OriginalReference string `json:"originalReference,omitempty"`

	// RectificationReason is required by the authority on rectify operations.
	RectificationReason string `json:"rectificationReason,omitempty"`
}

// TotalCargoWeightKg sums the declared cargo weight across all shipments.
func (s *Snapshot) TotalCargoWeightKg() int64 {
	var total int64
	for _, sh := range s.Shipments {
		for _, line := range sh.CargoLines {
			total += line.WeightKg
		}
	}
	return total
}

// ContainerCount counts containers across all shipments.
func (s *Snapshot) ContainerCount() int {
	var n int
	for _, sh := range s.Shipments {
		n += len(sh.Containers)
	}
	return n
}
