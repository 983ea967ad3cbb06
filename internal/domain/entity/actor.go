package entity

// UnknownIP is recorded when the caller's address cannot be determined
const UnknownIP = "0.0.0.0"

// GeoPoint is a best-effort location; Known is false when no lookup succeeded and
// the coordinates then default to (0, 0).
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Known     bool    `json:"-"`
}

// ActorContext identifies who triggered an action: an authenticated user, an anonymous
// signer holding a token, or the scheduler.
type ActorContext struct {
	UserID    *int64
	PartnerID *int64
	IP        string
}

// SystemActor is used for scheduler-driven transitions
func SystemActor() ActorContext {
	return ActorContext{IP: UnknownIP}
}

// AnonymousActor is a signer reaching the public endpoints by token
func AnonymousActor(ip string) ActorContext {
	if ip == "" {
		ip = UnknownIP
	}
	return ActorContext{IP: ip}
}

func (a ActorContext) RemoteIP() string {
	if a.IP == "" {
		return UnknownIP
	}
	return a.IP
}
