package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/rentopia/booking-service/internal/store"
)

const InvoiceContentType = "text/plain; charset=utf-8"

var invoiceTemplate = template.Must(template.New("invoice").Parse(`RENTOPIA RENTAL INVOICE
=======================

Transaction ID : {{.Data.TransactionID}}
Order date     : {{.OrderDate}}

Renter         : {{.Data.RenterName}}{{if .Data.RenterEmail}} <{{.Data.RenterEmail}}>{{end}}
Owner          : {{.Data.OwnerName}}
Item           : {{.Data.ItemTitle}}
Rental period  : {{.Data.StartDate}} to {{.Data.EndDate}} ({{.Days}} day{{if ne .Days 1}}s{{end}})

Total paid     : BDT {{.Data.TotalAmount.StringFixed 2}}
`))

// InvoiceRenderer produces the invoice artifact stored when a payment settles.
type InvoiceRenderer struct {
	loc *time.Location
}

func NewInvoiceRenderer(loc *time.Location) *InvoiceRenderer {
	if loc == nil {
		loc = time.UTC
	}
	return &InvoiceRenderer{loc: loc}
}

func (r *InvoiceRenderer) Render(data domain.InvoiceData) ([]byte, error) {
	view := struct {
		Data      domain.InvoiceData
		OrderDate string
		Days      int
	}{
		Data:      data,
		OrderDate: data.OrderDate.In(r.loc).Format("2006-01-02 15:04 MST"),
		Days:      int(data.EndDate-data.StartDate) + 1,
	}
	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, view); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Service) invoiceData(ctx context.Context, tx store.Tx, order *domain.Order, payment *domain.Payment) (domain.InvoiceData, error) {
	renter, err := tx.FindUserByID(ctx, order.RenterID)
	if err != nil {
		return domain.InvoiceData{}, fmt.Errorf("renter %s: %w", order.RenterID, err)
	}
	owner, err := tx.FindUserByID(ctx, order.OwnerID)
	if err != nil {
		return domain.InvoiceData{}, fmt.Errorf("owner %s: %w", order.OwnerID, err)
	}
	item, err := tx.FindItemByID(ctx, order.ItemID)
	if err != nil {
		return domain.InvoiceData{}, fmt.Errorf("item %s: %w", order.ItemID, err)
	}
	return domain.InvoiceData{
		TransactionID: payment.TransactionID,
		OrderDate:     order.CreatedAt,
		RenterName:    renter.Name,
		RenterEmail:   renter.Email,
		OwnerName:     owner.Name,
		ItemTitle:     item.Title,
		StartDate:     order.StartDate,
		EndDate:       order.EndDate,
		TotalAmount:   payment.Amount,
	}, nil
}

// InvoiceView is the downloadable invoice of a settled payment.
type InvoiceView struct {
	URL     string          `json:"invoiceUrl"`
	Invoice *domain.Invoice `json:"-"`
}

// GetInvoice returns the invoice of a payment to the renter who paid it.
func (s *Service) GetInvoice(ctx context.Context, actor domain.Actor, paymentID uuid.UUID) (*InvoiceView, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			return nil, notFoundError("payment not found", err)
		}
		return nil, err
	}
	order, err := s.repo.FindOrderByID(ctx, payment.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return nil, notFoundError("order not found for payment", err)
		}
		return nil, err
	}
	if order.RenterID != actor.UserID {
		return nil, forbiddenError("you are not permitted to view this invoice")
	}
	if payment.InvoiceURL == nil {
		return nil, notFoundError("no invoice found", store.ErrInvoiceNotFound)
	}
	invoice, err := s.repo.FindInvoiceByPaymentID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			return nil, notFoundError("no invoice found", err)
		}
		return nil, err
	}
	return &InvoiceView{URL: *payment.InvoiceURL, Invoice: invoice}, nil
}
