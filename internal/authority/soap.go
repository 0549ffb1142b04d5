package authority

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/facturo/internal/config"
	"github.com/smallbiznis/facturo/internal/observability/metrics"
)

const envelopeOpen = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Header/><soapenv:Body>`
const envelopeClose = `</soapenv:Body></soapenv:Envelope>`

// SOAPAdapter submits signed registration records over the authority's SOAP
// endpoint. One Submit call is one synchronous round trip.
type SOAPAdapter struct {
	client   *http.Client
	signer   *Signer
	log      *zap.Logger
	metrics  *metrics.Metrics
	endpoint string
	qrBase   string
}

func NewSOAP(cfg config.VerifactConfig, signer *Signer, m *metrics.Metrics, log *zap.Logger) *SOAPAdapter {
	return &SOAPAdapter{
		client:   &http.Client{Timeout: time.Duration(cfg.SubmitTimeout) * time.Second},
		signer:   signer,
		log:      log,
		metrics:  m,
		endpoint: cfg.Endpoint(),
		qrBase:   cfg.QRBaseURL,
	}
}

func (a *SOAPAdapter) Submit(ctx context.Context, sub Submission) (*Outcome, error) {
	signed, err := a.signer.Sign(BuildRecord(sub), sub.Company.TaxID)
	if err != nil {
		// A local key-material problem is not an authority verdict; surface
		// it as retryable so the invoice ends FAILED, never REJECTED.
		return nil, &TransportError{Err: fmt.Errorf("sign record: %w", err)}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(envelopeOpen)
	buf.Write(signed)
	buf.WriteString(envelopeClose)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, &buf)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	start := time.Now()
	resp, err := a.client.Do(req)
	a.metrics.ObserveSubmitDuration(ctx, time.Since(start))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Err: fmt.Errorf("http %d from authority", resp.StatusCode)}
	}

	return a.parseResponse(sub, raw)
}

// parseResponse walks the response by element local name, tolerating
// whatever namespace prefixes the authority emits.
func (a *SOAPAdapter) parseResponse(sub Submission, raw []byte) (*Outcome, error) {
	fields := map[string]string{}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var current string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &TransportError{Err: fmt.Errorf("parse authority response: %w", err)}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			current = t.Name.Local
		case xml.CharData:
			if current == "" {
				continue
			}
			text := strings.TrimSpace(string(t))
			if text != "" && fields[current] == "" {
				fields[current] = text
			}
		case xml.EndElement:
			current = ""
		}
	}

	estado := fields["EstadoRegistro"]
	if estado == "" {
		estado = fields["EstadoEnvio"]
	}

	switch estado {
	case "Correcto":
		return &Outcome{
			TxID:  fields["CSV"],
			Code:  fields["CSV"],
			QRURL: QRURL(a.qrBase, sub),
			Raw:   string(raw),
		}, nil
	case "Incorrecto", "AceptadoConErrores":
		code := fields["CodigoErrorRegistro"]
		if code == "" {
			code = "UNKNOWN"
		}
		return nil, &RejectionError{
			Code:        code,
			Description: fields["DescripcionErrorRegistro"],
			Raw:         string(raw),
		}
	}
	return nil, &TransportError{Err: fmt.Errorf("authority response missing registration state")}
}
