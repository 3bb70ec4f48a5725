package models

// ShippingCarrier is a selector passed to the carrier gateway. APIKey is opaque here.
type ShippingCarrier struct {
	Name              string
	APIKey            string
	SupportedServices []string
	Endpoint          string
}

func (c ShippingCarrier) Supports(service string) bool {
	if service == "" || len(c.SupportedServices) == 0 {
		return true
	}
	for _, s := range c.SupportedServices {
		if s == service {
			return true
		}
	}
	return false
}
