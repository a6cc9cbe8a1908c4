package eventbus

// TenantScoped is implemented by payloads that belong to one tenant.
// Consumers that relay events to end users use it to keep one tenant's
// events away from another.
type TenantScoped interface {
	EventTenant() string
}

// TenantOf returns the tenant an event belongs to. Map payloads are read
// from their "tenant" or "tenantId" key. scoped is false when the payload
// says nothing about tenants; an empty tenant with scoped true means the
// event is platform-wide.
func TenantOf(e Event) (tenant string, scoped bool) {
	switch p := e.Payload.(type) {
	case TenantScoped:
		return p.EventTenant(), true
	case map[string]any:
		for _, key := range []string{"tenant", "tenantId"} {
			if v, ok := p[key]; ok {
				s, _ := v.(string)
				return s, true
			}
		}
	}
	return "", false
}
