package leads

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Image is the campaign art attached to a lead, generated upstream by the
// template pipeline.
type Image struct {
	URL string `bson:"url,omitempty" json:"url,omitempty"`
}

// Lead is one prospect queued for outbound contact. A lead with
// ProspectionDate set has been contacted and is terminal; a lead with
// NoWhatsApp set is unreachable on the channel and is skipped without
// counting as a contact.
type Lead struct {
	ID            bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Phone         string        `bson:"phone" json:"phone"`
	Name          string        `bson:"name,omitempty" json:"name,omitempty"`
	Prospector    string        `bson:"prospector" json:"prospector"`
	ClientID      string        `bson:"client_id,omitempty" json:"client_id,omitempty"`
	AgendorDealID int64         `bson:"agendor_deal_id,omitempty" json:"agendor_deal_id,omitempty"`

	// Source partitions the queue (e.g. "google" for leads imported from
	// Google Maps scraping).
	Source string `bson:"bd,omitempty" json:"bd,omitempty"`

	Image *Image `bson:"image,omitempty" json:"image,omitempty"`

	ProspectionDate *time.Time `bson:"prospection_date,omitempty" json:"prospection_date,omitempty"`
	NoWhatsApp      bool       `bson:"no_whatsapp,omitempty" json:"no_whatsapp,omitempty"`

	// AssignedTo/AssignedAt are the claim fields. They are always set and
	// cleared together, in a single update document.
	AssignedTo string     `bson:"assigned_to,omitempty" json:"assigned_to,omitempty"`
	AssignedAt *time.Time `bson:"assigned_at,omitempty" json:"assigned_at,omitempty"`
}

// ImageURL returns the campaign art URL, empty when none was generated.
func (l *Lead) ImageURL() string {
	if l.Image == nil {
		return ""
	}
	return l.Image.URL
}

// ClaimFilter narrows which leads a worker may claim.
type ClaimFilter struct {
	Prospector string
	// Source, when non-empty, restricts claims to one queue partition.
	Source string
	// DevPhone pins claims to a single phone in development environments.
	DevPhone string
}
