package cloudsync

import (
	"context"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/sua-org/edge-agent/internal/core"
)

// Destination recebe os bytes de uma evidência sob uma chave determinística.
// Reenviar a mesma chave sobrescreve o mesmo objeto.
type Destination interface {
	Name() string
	Put(ctx context.Context, key string, data []byte, contentType string) (objectURL string, err error)
}

// CloudDestination: pede URL pré-assinada ao serviço e faz PUT nela.
type CloudDestination struct {
	Client *Client
}

func (d CloudDestination) Name() string { return "cloud" }

func (d CloudDestination) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	u, err := d.Client.UploadURL(ctx, key)
	if err != nil {
		return "", err
	}
	if err := d.Client.PutObject(ctx, u, data, contentType); err != nil {
		return "", err
	}
	return stripQuery(u), nil
}

// ObjectKey = evidence/YYYY/MM/DD/<camera>/<arquivo da imagem>, data do save em UTC.
func ObjectKey(rec core.EvidenceRecord) string {
	ts := rec.SavedAt
	if ts.IsZero() {
		ts = rec.Timestamp
	}
	ts = ts.UTC()
	name := filepath.Base(rec.ImagePath)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = rec.DetectionID + ".jpg"
	}
	return path.Join("evidence", ts.Format("2006"), ts.Format("01"), ts.Format("02"), rec.CameraID, name)
}

func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4":
		return "video/mp4"
	case ".png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}

