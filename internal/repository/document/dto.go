package document

import (
	"time"

	"github.com/kailas-cloud/guestid/internal/domain"
	"github.com/kailas-cloud/guestid/internal/domain/doctype"
	"github.com/kailas-cloud/guestid/internal/domain/extraction"
	domlc "github.com/kailas-cloud/guestid/internal/domain/lifecycle"
)

// docJSON is the stored representation. Image bytes are base64-encoded by encoding/json.
type docJSON struct {
	ID                string             `json:"id"`
	OrganizationID    string             `json:"organizationId"`
	DeclaredType      string             `json:"declaredType"`
	Status            string             `json:"status"`
	ImageData         []byte             `json:"imageData,omitempty"`
	ImageMIME         string             `json:"imageMime,omitempty"`
	ExtractionEnabled bool               `json:"extractionEnabled"`
	Result            *extraction.Result `json:"result,omitempty"`
	Attempts          int                `json:"attempts"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

func toJSON(d domlc.Document) docJSON {
	return docJSON{
		ID:                d.ID,
		OrganizationID:    d.OrganizationID,
		DeclaredType:      string(d.DeclaredType),
		Status:            string(d.Status),
		ImageData:         d.Image.Data,
		ImageMIME:         d.Image.MIMEType,
		ExtractionEnabled: d.ExtractionEnabled,
		Result:            d.Result,
		Attempts:          d.Attempts,
		UpdatedAt:         d.UpdatedAt,
	}
}

func fromJSON(j docJSON) domlc.Document {
	if j.Result != nil {
		// Field names live in the map key only.
		for name, f := range j.Result.Fields {
			f.Name = name
			j.Result.Fields[name] = f
		}
	}
	return domlc.Document{
		ID:                j.ID,
		OrganizationID:    j.OrganizationID,
		DeclaredType:      doctype.Parse(j.DeclaredType),
		Status:            domlc.Status(j.Status),
		Image:             domain.Image{Data: j.ImageData, MIMEType: j.ImageMIME},
		ExtractionEnabled: j.ExtractionEnabled,
		Result:            j.Result,
		Attempts:          j.Attempts,
		UpdatedAt:         j.UpdatedAt,
	}
}
