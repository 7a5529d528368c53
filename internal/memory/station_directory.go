package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"evcs/internal"
	"evcs/models"
	"evcs/utility"
)

type StationDirectory struct {
	chargePoints map[string]*models.ChargePoint
	connectors   map[string]*models.Connector
	mux          sync.RWMutex
}

func NewStationDirectory() *StationDirectory {
	return &StationDirectory{
		chargePoints: make(map[string]*models.ChargePoint),
		connectors:   make(map[string]*models.Connector),
	}
}

func copyChargePoint(cp *models.ChargePoint) *models.ChargePoint {
	copied := *cp
	copied.Prices = append([]float64(nil), cp.Prices...)
	if cp.LastHeartbeat != nil {
		heartbeat := *cp.LastHeartbeat
		copied.LastHeartbeat = &heartbeat
	}
	return &copied
}

func (d *StationDirectory) GetChargePoint(_ context.Context, id string) (*models.ChargePoint, error) {
	d.mux.RLock()
	defer d.mux.RUnlock()
	cp, ok := d.chargePoints[id]
	if !ok {
		return nil, internal.ErrNotFound
	}
	return copyChargePoint(cp), nil
}

func (d *StationDirectory) GetChargePoints(_ context.Context) ([]*models.ChargePoint, error) {
	d.mux.RLock()
	defer d.mux.RUnlock()
	chargePoints := make([]*models.ChargePoint, 0, len(d.chargePoints))
	for _, cp := range d.chargePoints {
		chargePoints = append(chargePoints, copyChargePoint(cp))
	}
	sort.Slice(chargePoints, func(i, j int) bool {
		return chargePoints[i].Id < chargePoints[j].Id
	})
	return chargePoints, nil
}

// AddChargePoint provisions a charge point, replacing registration status and prices of an existing one
func (d *StationDirectory) AddChargePoint(_ context.Context, chargePoint *models.ChargePoint) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	existing, ok := d.chargePoints[chargePoint.Id]
	if !ok {
		d.chargePoints[chargePoint.Id] = copyChargePoint(chargePoint)
		return nil
	}
	existing.RegistrationStatus = chargePoint.RegistrationStatus
	existing.Title = chargePoint.Title
	existing.Description = chargePoint.Description
	existing.Prices = append([]float64(nil), chargePoint.Prices...)
	return nil
}

func (d *StationDirectory) update(id string, apply func(cp *models.ChargePoint)) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	cp, ok := d.chargePoints[id]
	if !ok {
		return internal.ErrNotFound
	}
	apply(cp)
	return nil
}

func (d *StationDirectory) UpdateBootInfo(_ context.Context, id string, info models.BootInfo, heartbeat time.Time) error {
	return d.update(id, func(cp *models.ChargePoint) {
		cp.ApplyBootInfo(info)
		cp.LastHeartbeat = &heartbeat
	})
}

func (d *StationDirectory) UpdateHeartbeat(_ context.Context, id string, heartbeat time.Time) error {
	return d.update(id, func(cp *models.ChargePoint) {
		cp.LastHeartbeat = &heartbeat
	})
}

func (d *StationDirectory) UpdateFirmwareStatus(_ context.Context, id string, status string) error {
	return d.update(id, func(cp *models.ChargePoint) {
		cp.FirmwareStatus = status
	})
}

func (d *StationDirectory) UpdateDiagnosticsStatus(_ context.Context, id string, status string) error {
	return d.update(id, func(cp *models.ChargePoint) {
		cp.DiagnosticsStatus = status
	})
}

func (d *StationDirectory) UpdateConnector(_ context.Context, connector *models.Connector) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	copied := *connector
	d.connectors[utility.ConnectorKey(connector.ChargePointId, connector.Id)] = &copied
	return nil
}

func (d *StationDirectory) GetConnector(_ context.Context, chargePointId string, connectorId int) (*models.Connector, error) {
	d.mux.RLock()
	defer d.mux.RUnlock()
	connector, ok := d.connectors[utility.ConnectorKey(chargePointId, connectorId)]
	if !ok {
		return nil, internal.ErrNotFound
	}
	copied := *connector
	return &copied, nil
}
