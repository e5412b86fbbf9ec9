package ipcserver

import "time"

type pingResult struct {
	Pong bool `json:"pong"`
}

func (s *Server) handlePing() (any, *rpcError) {
	return pingResult{Pong: true}, nil
}

// accessTokenResult mirrors spec.md §6's required field names exactly,
// since other processes (config-sync, log-collector) parse this
// response by field name.
type accessTokenResult struct {
	Token     string `json:"token"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
	Valid     uint8  `json:"valid"`
}

func (s *Server) handleGetAccessToken() (any, *rpcError) {
	tok := s.tokens.Current()
	var valid uint8
	if tok.Usable(time.Now()) {
		valid = 1
	}
	return accessTokenResult{
		Token:     tok.Token,
		IssuedAt:  tok.IssuedAtSec,
		ExpiresAt: tok.ExpiresAtSec,
		Valid:     valid,
	}, nil
}

type deviceInfoResult struct {
	DeviceID          string `json:"device_id"`
	MAC               string `json:"mac"`
	Name              string `json:"name"`
	Brand             string `json:"brand"`
	Model             string `json:"model"`
	Arch              string `json:"arch"`
	PublicIP          string `json:"public_ip"`
	OSName            string `json:"os_name"`
	OSVersion         string `json:"os_version"`
	OSServicesVersion string `json:"os_services_version"`
	DIDPublicKey      string `json:"did_public_key"`
}

func (s *Server) handleGetDeviceInfo() (any, *rpcError) {
	d := s.device
	return deviceInfoResult{
		DeviceID:          d.ID,
		MAC:               d.MAC,
		Name:              d.Name,
		Brand:             d.Brand,
		Model:             d.Model,
		Arch:              d.Arch,
		PublicIP:          d.PublicIP,
		OSName:            d.OSName,
		OSVersion:         d.OSVersion,
		OSServicesVersion: d.ServicesVersion,
		DIDPublicKey:      d.DIDPublicKey,
	}, nil
}

type registrationResult struct {
	WayruDeviceID string `json:"wayru_device_id"`
	AccessKey     string `json:"access_key"`
}

func (s *Server) handleGetRegistration() (any, *rpcError) {
	return registrationResult{
		WayruDeviceID: s.reg.WayruDeviceID,
		AccessKey:     s.reg.AccessKey,
	}, nil
}

type statusResult struct {
	Service string `json:"service"`
	Running uint8  `json:"running"`
}

func (s *Server) handleGetStatus() (any, *rpcError) {
	return statusResult{
		Service: ServiceName,
		Running: 1,
	}, nil
}
