package authority

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MockAdapter emulates the authority for development and tests. Behavior is
// deterministic on the submission content:
//
//   - issuer tax id shorter than 9 characters: rejected with CIF_INVALIDO
//   - invoice notes containing "force:timeout": rejected with TIMEOUT
//   - invoice notes containing "force:transport": transport failure
//   - anything else: accepted with a synthetic CSV
type MockAdapter struct {
	log    *zap.Logger
	qrBase string
}

func NewMock(qrBase string, log *zap.Logger) *MockAdapter {
	return &MockAdapter{log: log, qrBase: qrBase}
}

func (a *MockAdapter) Submit(_ context.Context, sub Submission) (*Outcome, error) {
	notes := strings.ToLower(sub.Invoice.Notes)
	switch {
	case len(sub.Company.TaxID) < 9:
		return nil, &RejectionError{
			Code:        "CIF_INVALIDO",
			Description: "NIF del obligado no identificado",
		}
	case strings.Contains(notes, "force:timeout"):
		return nil, &RejectionError{Code: "TIMEOUT", Description: "tiempo de espera agotado"}
	case strings.Contains(notes, "force:transport"):
		return nil, &TransportError{Err: fmt.Errorf("simulated connection reset")}
	}

	csv := fmt.Sprintf("MOCK%s%d", shortHash(sub.DocumentHash), time.Now().Unix()%1000)
	a.log.Debug("mock authority accepted submission",
		zap.String("invoice_number", sub.Invoice.InvoiceNumber),
		zap.String("csv", csv),
	)
	return &Outcome{
		TxID:  csv,
		Code:  csv,
		QRURL: QRURL(a.qrBase, sub),
		Raw:   "<mock/>",
	}, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return strings.ToUpper(h[:12])
	}
	return strings.ToUpper(h)
}
