package statement

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/wasel-ledger/wasel-ledger/internal/remittance"
	"github.com/wasel-ledger/wasel-ledger/internal/shared"
)

// GotenbergClient wraps interactions with the Gotenberg API.
type GotenbergClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGotenbergClient constructs a new client.
func NewGotenbergClient(baseURL string) *GotenbergClient {
	return &GotenbergClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ping checks if the remote Gotenberg service is available.
func (c *GotenbergClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gotenberg returned status %d", resp.StatusCode)
	}
	return nil
}

// RenderHTML converts raw HTML into a PDF document using Gotenberg.
func (c *GotenbergClient) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", "document.html")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, bytes.NewBufferString(html)); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/forms/chromium/convert/html", c.baseURL), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("render failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

var receiptTemplate = template.Must(template.New("receipt").Parse(`<html>
<head><title>Settlement {{.Ref}}</title></head>
<body>
<h1>Settlement Receipt</h1>
<p>Reference: {{.Ref}}</p>
<p>Remittance: {{.RemittanceID}}</p>
<p>Payer: {{.PayerID}} ({{.PayerRole}})</p>
<p>Amount: {{.Amount}} {{.Currency}}</p>
<p>Method: {{.Method}}</p>
<p>Accepted: {{.AcceptedAt}}</p>
</body>
</html>`))

type receiptData struct {
	Ref          string
	RemittanceID string
	PayerID      int64
	PayerRole    string
	Amount       string
	Currency     string
	Method       string
	AcceptedAt   string
}

// Issuer stamps settlement references on final acceptance and renders the
// matching receipt PDF. The reference is authoritative even when rendering
// fails; the worker retries documents out of band.
type Issuer struct {
	client *GotenbergClient
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewIssuer constructs the Issuer. dir is where rendered receipts land.
func NewIssuer(client *GotenbergClient, dir string, logger *slog.Logger) *Issuer {
	return &Issuer{client: client, dir: dir, logger: logger, now: time.Now}
}

// SettlementRef derives the opaque reference stamped on acceptance. Pure so
// it can run before the accepting transition commits.
func (i *Issuer) SettlementRef(rec remittance.Record) string {
	return fmt.Sprintf("stl-%s", rec.ID.String()[:8])
}

// RenderSettlement produces the receipt for an accepted record.
func (i *Issuer) RenderSettlement(ctx context.Context, rec remittance.Record) error {
	ref := rec.SettlementRef
	if ref == "" {
		ref = i.SettlementRef(rec)
	}
	return i.Render(ctx, ref, rec)
}

// Render produces the receipt PDF for an already issued reference.
func (i *Issuer) Render(ctx context.Context, ref string, rec remittance.Record) error {
	if i.client == nil {
		return nil
	}
	acceptedAt := i.now().UTC().Format(time.RFC3339)
	if rec.AcceptedAt != nil {
		acceptedAt = rec.AcceptedAt.Format(time.RFC3339)
	}
	var buf bytes.Buffer
	err := receiptTemplate.Execute(&buf, receiptData{
		Ref:          ref,
		RemittanceID: rec.ID.String(),
		PayerID:      rec.PayerID,
		PayerRole:    string(rec.PayerRole),
		Amount:       shared.MoneyString(rec.Amount),
		Currency:     rec.Currency,
		Method:       string(rec.Method),
		AcceptedAt:   acceptedAt,
	})
	if err != nil {
		return err
	}
	pdf, err := i.client.RenderHTML(ctx, buf.String())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(i.dir, ref+".pdf"), pdf, 0o644)
}
