package authority

import (
	"encoding/xml"

	"github.com/shopspring/decimal"
)

// Registration record types mirroring the authority's RegFactuSistemaFacturacion
// schema. Dates use dd-MM-yyyy, amounts two decimals with a dot separator.

type RegFactu struct {
	XMLName  xml.Name `xml:"sum:RegFactuSistemaFacturacion"`
	XmlnsSum string   `xml:"xmlns:sum,attr"`
	XmlnsSf  string   `xml:"xmlns:sf,attr"`

	Cabecera        Cabecera        `xml:"sum:Cabecera"`
	RegistroFactura RegistroFactura `xml:"sum:RegistroFactura"`
}

type Cabecera struct {
	IDVersion       string          `xml:"sf:IDVersion"`
	ObligadoEmision ObligadoEmision `xml:"sf:ObligadoEmision"`
}

type ObligadoEmision struct {
	NombreRazon string `xml:"sf:NombreRazon"`
	NIF         string `xml:"sf:NIF"`
}

type RegistroFactura struct {
	RegistroAlta RegistroAlta `xml:"sf:RegistroAlta"`
}

type RegistroAlta struct {
	IDVersion            string         `xml:"sf:IDVersion"`
	IDFactura            IDFactura      `xml:"sf:IDFactura"`
	NombreRazonEmisor    string         `xml:"sf:NombreRazonEmisor"`
	TipoFactura          string         `xml:"sf:TipoFactura"`
	DescripcionOperacion string         `xml:"sf:DescripcionOperacion"`
	Destinatarios        *Destinatarios `xml:"sf:Destinatarios,omitempty"`
	Desglose             Desglose       `xml:"sf:Desglose"`
	CuotaTotal           string         `xml:"sf:CuotaTotal"`
	ImporteTotal         string         `xml:"sf:ImporteTotal"`
	Encadenamiento       Encadenamiento `xml:"sf:Encadenamiento"`
	Huella               string         `xml:"sf:Huella"`
}

type IDFactura struct {
	IDEmisorFactura        string `xml:"sf:IDEmisorFactura"`
	NumSerieFactura        string `xml:"sf:NumSerieFactura"`
	FechaExpedicionFactura string `xml:"sf:FechaExpedicionFactura"`
}

type Destinatarios struct {
	IDDestinatario []IDDestinatario `xml:"sf:IDDestinatario"`
}

type IDDestinatario struct {
	NombreRazon string `xml:"sf:NombreRazon"`
	NIF         string `xml:"sf:NIF"`
}

type Desglose struct {
	Detalle []DetalleDesglose `xml:"sf:DetalleDesglose"`
}

type DetalleDesglose struct {
	Impuesto               string `xml:"sf:Impuesto"`
	ClaveRegimen           string `xml:"sf:ClaveRegimen"`
	CalificacionOperacion  string `xml:"sf:CalificacionOperacion"`
	TipoImpositivo         string `xml:"sf:TipoImpositivo"`
	BaseImponibleOImporte  string `xml:"sf:BaseImponibleOImporteNoSujeto"`
	CuotaRepercutida       string `xml:"sf:CuotaRepercutida"`
}

type Encadenamiento struct {
	PrimerRegistro   string            `xml:"sf:PrimerRegistro,omitempty"`
	RegistroAnterior *RegistroAnterior `xml:"sf:RegistroAnterior,omitempty"`
}

type RegistroAnterior struct {
	Huella string `xml:"sf:Huella"`
}

// BuildRecord assembles the registration record for a submission. VAT lines
// with the same rate are merged into one breakdown detail.
func BuildRecord(s Submission) RegFactu {
	desglose, baseTotal, cuotaTotal := buildDesglose(s)
	alta := RegistroAlta{
		IDVersion: "1.0",
		IDFactura: IDFactura{
			IDEmisorFactura:        s.Company.TaxID,
			NumSerieFactura:        s.Invoice.InvoiceNumber,
			FechaExpedicionFactura: s.Invoice.IssueDate.Format("02-01-2006"),
		},
		NombreRazonEmisor:    s.Company.Name,
		TipoFactura:          "F1",
		DescripcionOperacion: operationDescription(s),
		Desglose:             desglose,
		CuotaTotal:           cuotaTotal.StringFixed(2),
		ImporteTotal:         baseTotal.Add(cuotaTotal).StringFixed(2),
		Huella:               s.DocumentHash,
	}

	if s.PreviousHash == "" {
		alta.Encadenamiento = Encadenamiento{PrimerRegistro: "S"}
	} else {
		alta.Encadenamiento = Encadenamiento{
			RegistroAnterior: &RegistroAnterior{Huella: s.PreviousHash},
		}
	}

	if s.Client != nil && s.Client.TaxID != "" {
		alta.Destinatarios = &Destinatarios{
			IDDestinatario: []IDDestinatario{{
				NombreRazon: s.Client.Name,
				NIF:         s.Client.TaxID,
			}},
		}
	}

	return RegFactu{
		XmlnsSum: "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/tike/cont/ws/SuministroLR.xsd",
		XmlnsSf:  "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/tike/cont/ws/SuministroInformacion.xsd",
		Cabecera: Cabecera{
			IDVersion: "1.0",
			ObligadoEmision: ObligadoEmision{
				NombreRazon: s.Company.Name,
				NIF:         s.Company.TaxID,
			},
		},
		RegistroFactura: RegistroFactura{RegistroAlta: alta},
	}
}

// buildDesglose groups lines by VAT rate. The quota per rate is computed
// from the summed group base, not by adding per-line amounts, so line-level
// rounding never accumulates into the declared totals.
func buildDesglose(s Submission) (Desglose, decimal.Decimal, decimal.Decimal) {
	type bucket struct {
		rate decimal.Decimal
		base decimal.Decimal
	}
	byRate := map[string]*bucket{}
	var order []string
	for _, l := range s.Invoice.Lines {
		rate := l.VATRate.StringFixed(2)
		b, ok := byRate[rate]
		if !ok {
			b = &bucket{rate: l.VATRate}
			byRate[rate] = b
			order = append(order, rate)
		}
		b.base = b.base.Add(l.TaxableBase())
	}

	var detalles []DetalleDesglose
	baseTotal := decimal.Zero
	cuotaTotal := decimal.Zero
	for _, rate := range order {
		b := byRate[rate]
		cuota := b.base.Mul(b.rate).Div(decimal.NewFromInt(100)).Round(2)
		baseTotal = baseTotal.Add(b.base)
		cuotaTotal = cuotaTotal.Add(cuota)
		detalles = append(detalles, DetalleDesglose{
			Impuesto:              "01",
			ClaveRegimen:          "01",
			CalificacionOperacion: "S1",
			TipoImpositivo:        rate,
			BaseImponibleOImporte: b.base.StringFixed(2),
			CuotaRepercutida:      cuota.StringFixed(2),
		})
	}
	return Desglose{Detalle: detalles}, baseTotal, cuotaTotal
}

func operationDescription(s Submission) string {
	if len(s.Invoice.Lines) == 1 {
		return s.Invoice.Lines[0].Description
	}
	return "Prestación de servicios y entrega de bienes"
}
