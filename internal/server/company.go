package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	invoicedomain "github.com/smallbiznis/facturo/internal/invoice/domain"
)

func (s *Server) CreateCompany(c *gin.Context) {
	var company invoicedomain.Company
	if err := c.ShouldBindJSON(&company); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}
	if strings.TrimSpace(company.Name) == "" {
		AbortWithError(c, newValidationError("name", "required", "name is required"))
		return
	}
	if strings.TrimSpace(company.TaxID) == "" {
		AbortWithError(c, newValidationError("tax_id", "required", "tax_id is required"))
		return
	}

	if err := s.invoiceSvc.CreateCompany(c.Request.Context(), &company); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": company})
}

func (s *Server) CreateClient(c *gin.Context) {
	var client invoicedomain.Client
	if err := c.ShouldBindJSON(&client); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}
	if client.CompanyID == 0 {
		AbortWithError(c, newValidationError("company_id", "required", "company_id is required"))
		return
	}
	if strings.TrimSpace(client.Name) == "" {
		AbortWithError(c, newValidationError("name", "required", "name is required"))
		return
	}

	if err := s.invoiceSvc.CreateClient(c.Request.Context(), &client); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": client})
}
