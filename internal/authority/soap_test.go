package authority

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smallbiznis/facturo/internal/credentials"
)

func newTestSOAP() *SOAPAdapter {
	return &SOAPAdapter{qrBase: "https://example.test/qr"}
}

func TestParseResponseAccepted(t *testing.T) {
	raw := []byte(`<?xml version="1.0"?>
<env:Envelope xmlns:env="http://schemas.xmlsoap.org/soap/envelope/">
  <env:Body>
    <tikR:RespuestaRegFactuSistemaFacturacion xmlns:tikR="https://aeat.es/resp">
      <tikR:CSV>A-7B2ZK9XQ</tikR:CSV>
      <tikR:EstadoEnvio>Correcto</tikR:EstadoEnvio>
      <tikR:RespuestaLinea>
        <tikR:EstadoRegistro>Correcto</tikR:EstadoRegistro>
      </tikR:RespuestaLinea>
    </tikR:RespuestaRegFactuSistemaFacturacion>
  </env:Body>
</env:Envelope>`)

	outcome, err := newTestSOAP().parseResponse(testSubmission(), raw)
	assert.NoError(t, err)
	assert.Equal(t, "A-7B2ZK9XQ", outcome.TxID)
	assert.Contains(t, outcome.QRURL, "nif=B12345678")
	assert.Contains(t, outcome.QRURL, "numserie=2025-0042")
}

func TestParseResponseRejected(t *testing.T) {
	// Different namespace prefix than the accepted case; parsing goes by
	// local names only.
	raw := []byte(`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Body>
    <RespuestaRegFactuSistemaFacturacion>
      <EstadoEnvio>Incorrecto</EstadoEnvio>
      <RespuestaLinea>
        <EstadoRegistro>Incorrecto</EstadoRegistro>
        <CodigoErrorRegistro>CIF_INVALIDO</CodigoErrorRegistro>
        <DescripcionErrorRegistro>NIF no identificado</DescripcionErrorRegistro>
      </RespuestaLinea>
    </RespuestaRegFactuSistemaFacturacion>
  </soapenv:Body>
</soapenv:Envelope>`)

	_, err := newTestSOAP().parseResponse(testSubmission(), raw)

	var rejection *RejectionError
	assert.ErrorAs(t, err, &rejection)
	assert.Equal(t, "CIF_INVALIDO", rejection.Code)
	assert.Equal(t, "NIF no identificado", rejection.Description)
	assert.False(t, rejection.Transient())
}

func TestParseResponseMissingState(t *testing.T) {
	raw := []byte(`<Envelope><Body><Whatever/></Body></Envelope>`)

	_, err := newTestSOAP().parseResponse(testSubmission(), raw)

	var transport *TransportError
	assert.ErrorAs(t, err, &transport)
}

func TestRejectionTransience(t *testing.T) {
	transient := &RejectionError{Code: "TIMEOUT"}
	assert.True(t, transient.Transient())

	deterministic := &RejectionError{Code: "CIF_INVALIDO"}
	assert.False(t, deterministic.Transient())

	unknown := &RejectionError{Code: "IMPORTE_NEGATIVO"}
	assert.False(t, unknown.Transient())
}

func TestSubmitSigningFailureIsNotAVerdict(t *testing.T) {
	// No key material on disk. The failure is local, so it must surface as
	// a retryable transport error rather than an authority rejection.
	a := &SOAPAdapter{
		signer: NewSigner(credentials.NewStore(t.TempDir())),
		qrBase: "https://example.test/qr",
	}

	_, err := a.Submit(context.Background(), testSubmission())

	var transport *TransportError
	assert.ErrorAs(t, err, &transport)
	var rejection *RejectionError
	assert.False(t, errors.As(err, &rejection))
}

func TestTransportErrorUnwraps(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &TransportError{Err: cause}
	assert.ErrorIs(t, err, cause)
}
