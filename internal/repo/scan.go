package repo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const businessColumns = `id, slug, name, store_address, store_latitude, store_longitude, created_at`

const customerColumns = `id, business_id, name, phone, preferences, created_at, updated_at`

const orderColumns = `id, business_id, customer_id, status, total_cents, CAST(exchange_rate AS TEXT), payment_method,
    delivery_address, delivery_latitude, delivery_longitude, shipping_cost_cents, notes, created_at, updated_at`

const orderItemColumns = `id, order_id, product_id, quantity, unit_price_cents, variant`

const paymentColumns = `id, order_id, method, reference, proof_url, amount_cents, status, verified_by, verified_at, notes, created_at, updated_at`

const deliveryPersonColumns = `id, business_id, name, phone, is_available, completed_orders, total_deliveries,
    rating_count, rating_sum, average_rating, created_at, updated_at`

const deliveryOrderColumns = `id, business_id, order_id, delivery_person_id, status, pickup_address, pickup_latitude, pickup_longitude,
    delivery_address, delivery_latitude, delivery_longitude, fee_cents, otp_code, notes, picked_up_at, delivered_at, failed_at,
    failure_reason, created_at, updated_at`

const ratingColumns = `id, delivery_order_id, delivery_person_id, customer_id, rating, comment, created_at`

const conversationColumns = `id, business_id, customer_id, channel, last_message_at, created_at`

const messageColumns = `id, conversation_id, role, content, created_at`

func scanBusiness(row rowScanner) (*Business, error) {
	var b Business
	if err := row.Scan(&b.ID, &b.Slug, &b.Name, &b.StoreAddress, &b.StoreLatitude, &b.StoreLongitude, ts(&b.CreatedAt)); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanCustomer(row rowScanner) (*Customer, error) {
	var (
		c     Customer
		prefs []byte
	)
	if err := row.Scan(&c.ID, &c.BusinessID, &c.Name, &c.Phone, &prefs, ts(&c.CreatedAt), ts(&c.UpdatedAt)); err != nil {
		return nil, err
	}
	c.Preferences = docFromBytes(prefs)
	return &c, nil
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o    Order
		rate *string
	)
	if err := row.Scan(
		&o.ID, &o.BusinessID, &o.CustomerID, &o.Status, &o.TotalCents, &rate, &o.PaymentMethod,
		&o.DeliveryAddress, &o.DeliveryLatitude, &o.DeliveryLongitude, &o.ShippingCostCents, &o.Notes,
		ts(&o.CreatedAt), ts(&o.UpdatedAt),
	); err != nil {
		return nil, err
	}
	if rate != nil && *rate != "" {
		d, err := decimal.NewFromString(*rate)
		if err != nil {
			return nil, fmt.Errorf("parse exchange rate %q: %w", *rate, err)
		}
		o.ExchangeRate = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	return &o, nil
}

func scanOrderItem(row rowScanner) (*OrderItem, error) {
	var (
		it      OrderItem
		variant []byte
	)
	if err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPriceCents, &variant); err != nil {
		return nil, err
	}
	it.Variant = docFromBytes(variant)
	return &it, nil
}

func scanPayment(row rowScanner) (*Payment, error) {
	var p Payment
	if err := row.Scan(
		&p.ID, &p.OrderID, &p.Method, &p.Reference, &p.ProofURL, &p.AmountCents, &p.Status,
		&p.VerifiedBy, nts(&p.VerifiedAt), &p.Notes, ts(&p.CreatedAt), ts(&p.UpdatedAt),
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanDeliveryPerson(row rowScanner) (*DeliveryPerson, error) {
	var dp DeliveryPerson
	if err := row.Scan(
		&dp.ID, &dp.BusinessID, &dp.Name, &dp.Phone, &dp.IsAvailable, &dp.CompletedOrders, &dp.TotalDeliveries,
		&dp.RatingCount, &dp.RatingSum, &dp.AverageRating, ts(&dp.CreatedAt), ts(&dp.UpdatedAt),
	); err != nil {
		return nil, err
	}
	return &dp, nil
}

func scanDeliveryOrder(row rowScanner) (*DeliveryOrder, error) {
	var d DeliveryOrder
	if err := row.Scan(
		&d.ID, &d.BusinessID, &d.OrderID, &d.DeliveryPersonID, &d.Status,
		&d.PickupAddress, &d.PickupLatitude, &d.PickupLongitude,
		&d.DeliveryAddress, &d.DeliveryLatitude, &d.DeliveryLongitude,
		&d.FeeCents, &d.OTPCode, &d.Notes, nts(&d.PickedUpAt), nts(&d.DeliveredAt), nts(&d.FailedAt),
		&d.FailureReason, ts(&d.CreatedAt), ts(&d.UpdatedAt),
	); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanRating(row rowScanner) (*DeliveryRating, error) {
	var r DeliveryRating
	if err := row.Scan(&r.ID, &r.DeliveryOrderID, &r.DeliveryPersonID, &r.CustomerID, &r.Rating, &r.Comment, ts(&r.CreatedAt)); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.BusinessID, &c.CustomerID, &c.Channel, nts(&c.LastMessageAt), ts(&c.CreatedAt)); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, ts(&m.CreatedAt)); err != nil {
		return nil, err
	}
	return &m, nil
}

func decimalParam(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

// deliveryTimestampColumn names the column stamped when a delivery order enters status.
func deliveryTimestampColumn(status DeliveryStatus) (string, error) {
	switch status {
	case DeliveryPickedUp:
		return "picked_up_at", nil
	case DeliveryDelivered:
		return "delivered_at", nil
	case DeliveryFailed:
		return "failed_at", nil
	}
	return "", fmt.Errorf("no transition into delivery status %q", status)
}

// averageRating returns sum/count, zero when no rating exists.
func averageRating(sum int64, count int) float64 {
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}

// timeLayouts are the textual forms SQLite hands back for DATETIME columns.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
}

// timeScanner accepts native times as well as their textual SQLite forms.
type timeScanner struct {
	dst  *time.Time
	ndst **time.Time
}

func ts(dst *time.Time) *timeScanner   { return &timeScanner{dst: dst} }
func nts(dst **time.Time) *timeScanner { return &timeScanner{ndst: dst} }

// Scan implements sql.Scanner.
func (s *timeScanner) Scan(src any) error {
	if src == nil {
		if s.ndst != nil {
			*s.ndst = nil
		}
		return nil
	}
	var t time.Time
	switch v := src.(type) {
	case time.Time:
		t = v
	case string:
		parsed, err := parseTime(v)
		if err != nil {
			return err
		}
		t = parsed
	case []byte:
		parsed, err := parseTime(string(v))
		if err != nil {
			return err
		}
		t = parsed
	case int64:
		t = time.Unix(v, 0)
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	if s.ndst != nil {
		*s.ndst = &t
		return nil
	}
	*s.dst = t
	return nil
}

func parseTime(v string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q", v)
}
