package domain

import "time"

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusDead     Status = "DEAD"
	StatusUnknown  Status = "UNKNOWN"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusDead, StatusUnknown:
		return true
	}
	return false
}

type FloatType string

const (
	FloatTypeCore           FloatType = "core"
	FloatTypeOxygen         FloatType = "oxygen"
	FloatTypeBiogeochemical FloatType = "biogeochemical"
	FloatTypeDeep           FloatType = "deep"
	FloatTypeUnknown        FloatType = "unknown"
)

func (t FloatType) Valid() bool {
	switch t {
	case FloatTypeCore, FloatTypeOxygen, FloatTypeBiogeochemical, FloatTypeDeep, FloatTypeUnknown:
		return true
	}
	return false
}

// FloatMetadata is the deployment record of a float. Rows are created on
// first encounter and never deleted by ingestion.
type FloatMetadata struct {
	FloatID              int64      `gorm:"column:float_id;primaryKey;autoIncrement:false" json:"float_id"`
	WMONumber            string     `gorm:"column:wmo_number;uniqueIndex;not null" json:"wmo_number"`
	Status               Status     `gorm:"column:status;not null;default:UNKNOWN" json:"status"`
	FloatType            FloatType  `gorm:"column:float_type;not null;default:unknown" json:"float_type"`
	DataCentre           string     `gorm:"column:data_centre" json:"data_centre,omitempty"`
	ProjectName          string     `gorm:"column:project_name" json:"project_name,omitempty"`
	OperatingInstitution string     `gorm:"column:operating_institution" json:"operating_institution,omitempty"`
	PIName               string     `gorm:"column:pi_name" json:"pi_name,omitempty"`
	PlatformType         string     `gorm:"column:platform_type" json:"platform_type,omitempty"`
	PlatformMaker        string     `gorm:"column:platform_maker" json:"platform_maker,omitempty"`
	FloatSerialNo        string     `gorm:"column:float_serial_no" json:"float_serial_no,omitempty"`
	LaunchDate           *time.Time `gorm:"column:launch_date" json:"launch_date,omitempty"`
	LaunchLat            *float64   `gorm:"column:launch_lat" json:"launch_lat,omitempty"`
	LaunchLon            *float64   `gorm:"column:launch_lon" json:"launch_lon,omitempty"`
	StartMissionDate     *time.Time `gorm:"column:start_mission_date" json:"start_mission_date,omitempty"`
	EndMissionDate       *time.Time `gorm:"column:end_mission_date" json:"end_mission_date,omitempty"`
	CreatedAt            time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (FloatMetadata) TableName() string { return "argo_float_metadata" }

// FloatStatus is the latest known state of a float, owned by the status
// projector. CycleNumber and LastUpdate never move backwards.
type FloatStatus struct {
	FloatID         int64      `gorm:"column:float_id;primaryKey;autoIncrement:false" json:"float_id"`
	Latitude        *float64   `gorm:"column:latitude" json:"latitude"`
	Longitude       *float64   `gorm:"column:longitude" json:"longitude"`
	CycleNumber     int        `gorm:"column:cycle_number;not null" json:"cycle_number"`
	BatteryPercent  *int       `gorm:"column:battery_percent" json:"battery_percent"`
	LastTemperature *float64   `gorm:"column:last_temperature" json:"last_temperature"`
	LastSalinity    *float64   `gorm:"column:last_salinity" json:"last_salinity"`
	LastDepth       *float64   `gorm:"column:last_depth" json:"last_depth"`
	LastUpdate      *time.Time `gorm:"column:last_update" json:"last_update"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (FloatStatus) TableName() string { return "argo_float_status" }

// Newer reports whether s should replace prior under the
// (cycleNumber, lastUpdate) ordering.
func (s FloatStatus) Newer(prior FloatStatus) bool {
	if s.CycleNumber != prior.CycleNumber {
		return s.CycleNumber > prior.CycleNumber
	}
	if s.LastUpdate == nil {
		return false
	}
	return prior.LastUpdate == nil || s.LastUpdate.After(*prior.LastUpdate)
}

// Float is the joined metadata and status view served by the query surface.
type Float struct {
	FloatID              int64      `gorm:"column:float_id" json:"float_id"`
	WMONumber            string     `gorm:"column:wmo_number" json:"wmo_number"`
	Status               Status     `gorm:"column:status" json:"status"`
	FloatType            FloatType  `gorm:"column:float_type" json:"float_type"`
	DataCentre           string     `gorm:"column:data_centre" json:"data_centre,omitempty"`
	ProjectName          string     `gorm:"column:project_name" json:"project_name,omitempty"`
	OperatingInstitution string     `gorm:"column:operating_institution" json:"operating_institution,omitempty"`
	PIName               string     `gorm:"column:pi_name" json:"pi_name,omitempty"`
	PlatformType         string     `gorm:"column:platform_type" json:"platform_type,omitempty"`
	LaunchDate           *time.Time `gorm:"column:launch_date" json:"launch_date,omitempty"`
	Latitude             *float64   `gorm:"column:latitude" json:"latitude"`
	Longitude            *float64   `gorm:"column:longitude" json:"longitude"`
	CycleNumber          *int       `gorm:"column:cycle_number" json:"cycle_number"`
	BatteryPercent       *int       `gorm:"column:battery_percent" json:"battery_percent"`
	LastTemperature      *float64   `gorm:"column:last_temperature" json:"last_temperature,omitempty"`
	LastSalinity         *float64   `gorm:"column:last_salinity" json:"last_salinity,omitempty"`
	LastDepth            *float64   `gorm:"column:last_depth" json:"last_depth,omitempty"`
	LastUpdate           *time.Time `gorm:"column:last_update" json:"last_update"`
}
