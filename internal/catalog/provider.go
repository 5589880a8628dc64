package catalog

import (
	"encoding/json"
	"strconv"

	"github.com/wolfman30/homepro-connect/internal/apiclient"
)

// Provider is a catalog entry. It is read-only on the client.
type Provider struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	Service         string  `json:"service"`
	Price           string  `json:"price"`
	Rating          float64 `json:"rating"`
	Description     string  `json:"description"`
	ServiceDuration int     `json:"serviceDuration"`
	CalendarSync    bool    `json:"calendarSync"`
	Email           string  `json:"email,omitempty"`
	Phone           string  `json:"phone,omitempty"`
	Image           string  `json:"image,omitempty"`
}

// UnmarshalJSON accepts numeric or string ids and prices, and the "_id" and
// "calendarSyncEnabled" spellings some endpoints use.
func (p *Provider) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID                  json.RawMessage `json:"id"`
		MongoID             json.RawMessage `json:"_id"`
		Name                string          `json:"name"`
		Category            string          `json:"category"`
		Service             string          `json:"service"`
		Price               json.RawMessage `json:"price"`
		Rating              json.RawMessage `json:"rating"`
		Description         string          `json:"description"`
		ServiceDuration     json.RawMessage `json:"serviceDuration"`
		CalendarSync        *bool           `json:"calendarSync"`
		CalendarSyncEnabled *bool           `json:"calendarSyncEnabled"`
		Email               string          `json:"email"`
		Phone               string          `json:"phone"`
		Image               string          `json:"image"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	id := apiclient.FlexibleID(wire.ID)
	if id == "" {
		id = apiclient.FlexibleID(wire.MongoID)
	}
	*p = Provider{
		ID:              id,
		Name:            wire.Name,
		Category:        wire.Category,
		Service:         wire.Service,
		Price:           apiclient.FlexibleID(wire.Price),
		Rating:          flexFloat(wire.Rating),
		Description:     wire.Description,
		ServiceDuration: int(flexFloat(wire.ServiceDuration)),
		Email:           wire.Email,
		Phone:           wire.Phone,
		Image:           wire.Image,
	}
	switch {
	case wire.CalendarSync != nil:
		p.CalendarSync = *wire.CalendarSync
	case wire.CalendarSyncEnabled != nil:
		p.CalendarSync = *wire.CalendarSyncEnabled
	}
	return nil
}

func flexFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return 0
}

// fallbackProviders is the built-in seed installed when the catalog cannot
// be fetched.
func fallbackProviders() []Provider {
	return []Provider{
		{
			ID: "101", Name: "John Doe", Category: "Electrician", Service: "Home Electrical Repair",
			Rating: 4.9, Email: "john.electrician@example.com", Phone: "+1 555-1122",
			Image: "/img/providers/electrician1.jpg", Description: "Certified electrician with 10+ years experience.",
			Price: "50/hour", CalendarSync: true, ServiceDuration: 60,
		},
		{
			ID: "102", Name: "Maria Santos", Category: "Plumber", Service: "Pipe & Leak Fixing",
			Rating: 4.7, Email: "maria.plumbing@example.com", Phone: "+1 555-2233",
			Image: "/img/providers/plumber1.jpg", Description: "Professional plumber specializing in leak repairs.",
			Price: "45/hour", CalendarSync: false, ServiceDuration: 60,
		},
		{
			ID: "103", Name: "Alex Tan", Category: "Carpenter", Service: "Furniture & Wood Repair",
			Rating: 4.8, Email: "alex.carpentry@example.com", Phone: "+1 555-3344",
			Image: "/img/providers/carpenter1.jpg", Description: "Skilled carpenter offering furniture repair.",
			Price: "60/hour", CalendarSync: false, ServiceDuration: 90,
		},
		{
			ID: "104", Name: "Sarah Miller", Category: "Cleaning", Service: "Home Deep Cleaning",
			Rating: 4.6, Email: "sarah.cleaning@example.com", Phone: "+1 555-4455",
			Image: "/img/providers/cleaner1.jpg", Description: "Expert in deep cleaning with eco-friendly materials.",
			Price: "30/hour", CalendarSync: false, ServiceDuration: 120,
		},
		{
			ID: "105", Name: "Michael Roberts", Category: "HVAC", Service: "Aircon Maintenance & Repair",
			Rating: 4.9, Email: "mike.hvac@example.com", Phone: "+1 555-5566",
			Image: "/img/providers/hvac1.jpg", Description: "Licensed HVAC specialist offering AC repair.",
			Price: "70/hour", CalendarSync: true, ServiceDuration: 90,
		},
		{
			ID: "106", Name: "Grace Lee", Category: "Painter", Service: "Interior & Exterior Painting",
			Rating: 4.5, Email: "grace.painting@example.com", Phone: "+1 555-6677",
			Image: "/img/providers/painter1.jpg", Description: "Professional painter with expertise in wall restoration.",
			Price: "40/hour", CalendarSync: false, ServiceDuration: 60,
		},
	}
}
