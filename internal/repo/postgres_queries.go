package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// pgQueries runs statements on a pool or inside a transaction.
type pgQueries struct {
	db pgxQuerier
}

// GetBusiness loads the tenant record.
func (q *pgQueries) GetBusiness(ctx context.Context, id string) (*Business, error) {
	b, err := scanBusiness(q.db.QueryRow(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = $1`, id))
	if err != nil {
		return nil, pgError("get business", err)
	}
	return b, nil
}

// GetCustomer loads a customer owned by the business.
func (q *pgQueries) GetCustomer(ctx context.Context, businessID, id string) (*Customer, error) {
	c, err := scanCustomer(q.db.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1 AND business_id = $2`, id, businessID))
	if err != nil {
		return nil, pgError("get customer", err)
	}
	return c, nil
}

// UpsertCustomerByPhone stores or refreshes the customer reachable at phone.
func (q *pgQueries) UpsertCustomerByPhone(ctx context.Context, profile CustomerProfile) (*Customer, error) {
	const stmt = `
INSERT INTO customers (id, business_id, name, phone)
VALUES ($1, $2, $3, $4)
ON CONFLICT (business_id, phone) WHERE phone IS NOT NULL DO UPDATE SET
    name = CASE WHEN EXCLUDED.name <> EXCLUDED.phone THEN EXCLUDED.name ELSE customers.name END,
    updated_at = NOW()
RETURNING ` + customerColumns
	name := profile.Name
	if name == "" {
		name = profile.Phone
	}
	c, err := scanCustomer(q.db.QueryRow(ctx, stmt, uuid.NewString(), profile.BusinessID, name, profile.Phone))
	if err != nil {
		return nil, pgError("upsert customer", err)
	}
	return c, nil
}

// ListProductsByIDs returns the non-deleted products of the business among ids.
func (q *pgQueries) ListProductsByIDs(ctx context.Context, businessID string, ids []string) ([]Product, error) {
	const stmt = `
SELECT id, business_id, name, price_cents
FROM products
WHERE business_id = $1 AND id = ANY($2::text[]) AND deleted_at IS NULL;
`
	rows, err := q.db.Query(ctx, stmt, businessID, ids)
	if err != nil {
		return nil, pgError("list products", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.BusinessID, &p.Name, &p.PriceCents); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// InsertOrder persists a new order header.
func (q *pgQueries) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	const stmt = `
INSERT INTO orders (id, business_id, customer_id, status, total_cents, exchange_rate, payment_method,
    delivery_address, delivery_latitude, delivery_longitude, shipping_cost_cents, notes)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12)
RETURNING ` + orderColumns
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	o, err := scanOrder(q.db.QueryRow(ctx, stmt,
		order.ID,
		order.BusinessID,
		order.CustomerID,
		order.Status,
		order.TotalCents,
		decimalParam(order.ExchangeRate),
		order.PaymentMethod,
		order.DeliveryAddress,
		order.DeliveryLatitude,
		order.DeliveryLongitude,
		order.ShippingCostCents,
		order.Notes,
	))
	if err != nil {
		return nil, pgError("insert order", err)
	}
	return o, nil
}

// InsertOrderItem persists one order line.
func (q *pgQueries) InsertOrderItem(ctx context.Context, item OrderItem) (*OrderItem, error) {
	const stmt = `
INSERT INTO order_items (id, order_id, product_id, quantity, unit_price_cents, variant)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + orderItemColumns
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	it, err := scanOrderItem(q.db.QueryRow(ctx, stmt,
		item.ID, item.OrderID, item.ProductID, item.Quantity, item.UnitPriceCents, docParam(item.Variant)))
	if err != nil {
		return nil, pgError("insert order item", err)
	}
	return it, nil
}

// GetOrder loads an order owned by the business.
func (q *pgQueries) GetOrder(ctx context.Context, businessID, id string) (*Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND business_id = $2`, id, businessID))
	if err != nil {
		return nil, pgError("get order", err)
	}
	return o, nil
}

// GetOrderByID loads an order regardless of tenant.
func (q *pgQueries) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, pgError("get order", err)
	}
	return o, nil
}

// ListOrderItems returns the lines of an order.
func (q *pgQueries) ListOrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, `SELECT `+orderItemColumns+` FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, pgError("list order items", err)
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		it, err := scanOrderItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

// ListOrders returns the newest orders of the business matching filter.
func (q *pgQueries) ListOrders(ctx context.Context, businessID string, filter OrderFilter) ([]Order, error) {
	const stmt = `
SELECT ` + orderColumns + `
FROM orders
WHERE business_id = $1
  AND ($2 = '' OR status = $2)
  AND ($3 = '' OR customer_id = $3)
ORDER BY created_at DESC, id
LIMIT $4 OFFSET $5;
`
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	rows, err := q.db.Query(ctx, stmt, businessID, string(filter.Status), filter.CustomerID, limit, offset)
	if err != nil {
		return nil, pgError("list orders", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

// UpdateOrderStatus overwrites the order status.
func (q *pgQueries) UpdateOrderStatus(ctx context.Context, id string, status OrderStatus) error {
	tag, err := q.db.Exec(ctx, `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return pgError("update order status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update order status: %w", ErrNotFound)
	}
	return nil
}

// DeleteOrder removes an order and its items.
func (q *pgQueries) DeleteOrder(ctx context.Context, businessID, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM orders WHERE id = $1 AND business_id = $2`, id, businessID)
	if err != nil {
		return pgError("delete order", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete order: %w", ErrNotFound)
	}
	return nil
}

// InsertPayment persists a new payment.
func (q *pgQueries) InsertPayment(ctx context.Context, payment Payment) (*Payment, error) {
	const stmt = `
INSERT INTO payments (id, order_id, method, reference, proof_url, amount_cents, status, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + paymentColumns
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	p, err := scanPayment(q.db.QueryRow(ctx, stmt,
		payment.ID, payment.OrderID, payment.Method, payment.Reference, payment.ProofURL,
		payment.AmountCents, payment.Status, payment.Notes))
	if err != nil {
		return nil, pgError("insert payment", err)
	}
	return p, nil
}

// GetPayment loads a payment whose order belongs to the business.
func (q *pgQueries) GetPayment(ctx context.Context, businessID, id string) (*Payment, error) {
	const stmt = `
SELECT ` + paymentColumns + `
FROM payments
WHERE id = $1 AND order_id IN (SELECT id FROM orders WHERE business_id = $2);
`
	p, err := scanPayment(q.db.QueryRow(ctx, stmt, id, businessID))
	if err != nil {
		return nil, pgError("get payment", err)
	}
	return p, nil
}

// DecidePayment applies a verification decision if the payment is still in decision.From.
func (q *pgQueries) DecidePayment(ctx context.Context, decision PaymentDecision) (*Payment, error) {
	const stmt = `
UPDATE payments
SET status = $3, verified_by = $4, verified_at = $5, notes = $6, updated_at = NOW()
WHERE id = $1 AND status = $2
RETURNING ` + paymentColumns
	p, err := scanPayment(q.db.QueryRow(ctx, stmt,
		decision.ID, decision.From, decision.To, decision.VerifiedBy, decision.VerifiedAt, decision.Notes))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("decide payment: %w", ErrStaleState)
	}
	if err != nil {
		return nil, pgError("decide payment", err)
	}
	return p, nil
}

// ListPayments returns payments of the business matching filter, newest first.
func (q *pgQueries) ListPayments(ctx context.Context, businessID string, filter PaymentFilter) ([]Payment, error) {
	const stmt = `
SELECT ` + paymentColumns + `
FROM payments
WHERE order_id IN (SELECT id FROM orders WHERE business_id = $1)
  AND ($2 = '' OR status = $2)
  AND ($3 = '' OR order_id = $3)
ORDER BY created_at DESC, id;
`
	rows, err := q.db.Query(ctx, stmt, businessID, string(filter.Status), filter.OrderID)
	if err != nil {
		return nil, pgError("list payments", err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}

// GetDeliveryPerson loads a courier of the business.
func (q *pgQueries) GetDeliveryPerson(ctx context.Context, businessID, id string) (*DeliveryPerson, error) {
	dp, err := scanDeliveryPerson(q.db.QueryRow(ctx,
		`SELECT `+deliveryPersonColumns+` FROM delivery_persons WHERE id = $1 AND business_id = $2`, id, businessID))
	if err != nil {
		return nil, pgError("get delivery person", err)
	}
	return dp, nil
}

// ListDeliveryPersons returns the couriers of the business by name.
func (q *pgQueries) ListDeliveryPersons(ctx context.Context, businessID string, availableOnly bool) ([]DeliveryPerson, error) {
	const stmt = `
SELECT ` + deliveryPersonColumns + `
FROM delivery_persons
WHERE business_id = $1 AND (NOT $2 OR is_available)
ORDER BY name, id;
`
	rows, err := q.db.Query(ctx, stmt, businessID, availableOnly)
	if err != nil {
		return nil, pgError("list delivery persons", err)
	}
	defer rows.Close()

	var persons []DeliveryPerson
	for rows.Next() {
		dp, err := scanDeliveryPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery person: %w", err)
		}
		persons = append(persons, *dp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery persons: %w", err)
	}
	return persons, nil
}

// SetDeliveryPersonAvailable flips the courier availability flag.
func (q *pgQueries) SetDeliveryPersonAvailable(ctx context.Context, id string, available bool) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE delivery_persons SET is_available = $2, updated_at = NOW() WHERE id = $1`, id, available)
	if err != nil {
		return pgError("set delivery person availability", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set delivery person availability: %w", ErrNotFound)
	}
	return nil
}

// RecordCompletedDelivery bumps the courier counters and frees the courier.
func (q *pgQueries) RecordCompletedDelivery(ctx context.Context, id string) error {
	const stmt = `
UPDATE delivery_persons
SET completed_orders = completed_orders + 1,
    total_deliveries = total_deliveries + 1,
    is_available = TRUE,
    updated_at = NOW()
WHERE id = $1;
`
	tag, err := q.db.Exec(ctx, stmt, id)
	if err != nil {
		return pgError("record completed delivery", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record completed delivery: %w", ErrNotFound)
	}
	return nil
}

// ApplyDeliveryRating folds one rating into the courier aggregate.
func (q *pgQueries) ApplyDeliveryRating(ctx context.Context, id string, rating int) (*DeliveryPerson, error) {
	const stmt = `
UPDATE delivery_persons
SET rating_count = rating_count + 1,
    rating_sum = rating_sum + $2,
    average_rating = CAST(rating_sum + $2 AS DOUBLE PRECISION) / (rating_count + 1),
    updated_at = NOW()
WHERE id = $1
RETURNING ` + deliveryPersonColumns
	dp, err := scanDeliveryPerson(q.db.QueryRow(ctx, stmt, id, rating))
	if err != nil {
		return nil, pgError("apply delivery rating", err)
	}
	return dp, nil
}

// InsertDeliveryOrder persists a courier assignment. A second assignment of the same order yields ErrDuplicate.
func (q *pgQueries) InsertDeliveryOrder(ctx context.Context, d DeliveryOrder) (*DeliveryOrder, error) {
	const stmt = `
INSERT INTO delivery_orders (id, business_id, order_id, delivery_person_id, status,
    pickup_address, pickup_latitude, pickup_longitude, delivery_address, delivery_latitude, delivery_longitude,
    fee_cents, otp_code, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING ` + deliveryOrderColumns
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	out, err := scanDeliveryOrder(q.db.QueryRow(ctx, stmt,
		d.ID, d.BusinessID, d.OrderID, d.DeliveryPersonID, d.Status,
		d.PickupAddress, d.PickupLatitude, d.PickupLongitude,
		d.DeliveryAddress, d.DeliveryLatitude, d.DeliveryLongitude,
		d.FeeCents, d.OTPCode, d.Notes))
	if err != nil {
		return nil, pgError("insert delivery order", err)
	}
	return out, nil
}

// GetDeliveryOrderByOrderID loads the assignment of an order.
func (q *pgQueries) GetDeliveryOrderByOrderID(ctx context.Context, orderID string) (*DeliveryOrder, error) {
	d, err := scanDeliveryOrder(q.db.QueryRow(ctx,
		`SELECT `+deliveryOrderColumns+` FROM delivery_orders WHERE order_id = $1`, orderID))
	if err != nil {
		return nil, pgError("get delivery order", err)
	}
	return d, nil
}

// TransitionDeliveryOrder moves a delivery order forward only from one of tr.From.
func (q *pgQueries) TransitionDeliveryOrder(ctx context.Context, tr DeliveryTransition) (*DeliveryOrder, error) {
	column, err := deliveryTimestampColumn(tr.To)
	if err != nil {
		return nil, err
	}
	stmt := `
UPDATE delivery_orders
SET status = $2, ` + column + ` = $3, failure_reason = COALESCE($4::text, failure_reason), updated_at = NOW()
WHERE id = $1 AND status = ANY($5::text[])
RETURNING ` + deliveryOrderColumns
	from := make([]string, len(tr.From))
	for i, s := range tr.From {
		from[i] = string(s)
	}
	d, err := scanDeliveryOrder(q.db.QueryRow(ctx, stmt, tr.ID, tr.To, tr.At, tr.Reason, from))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition delivery order: %w", ErrStaleState)
	}
	if err != nil {
		return nil, pgError("transition delivery order", err)
	}
	return d, nil
}

// ReassignDeliveryOrder reopens a FAILED delivery for a new courier with fresh
// snapshots and code. Any other status yields ErrStaleState.
func (q *pgQueries) ReassignDeliveryOrder(ctx context.Context, d DeliveryOrder) (*DeliveryOrder, error) {
	const stmt = `
UPDATE delivery_orders
SET delivery_person_id = $2, status = 'ASSIGNED',
    pickup_address = $3, pickup_latitude = $4, pickup_longitude = $5,
    delivery_address = $6, delivery_latitude = $7, delivery_longitude = $8,
    fee_cents = $9, otp_code = $10, notes = $11,
    picked_up_at = NULL, delivered_at = NULL, failed_at = NULL, failure_reason = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'FAILED'
RETURNING ` + deliveryOrderColumns
	out, err := scanDeliveryOrder(q.db.QueryRow(ctx, stmt,
		d.ID, d.DeliveryPersonID,
		d.PickupAddress, d.PickupLatitude, d.PickupLongitude,
		d.DeliveryAddress, d.DeliveryLatitude, d.DeliveryLongitude,
		d.FeeCents, d.OTPCode, d.Notes))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reassign delivery order: %w", ErrStaleState)
	}
	if err != nil {
		return nil, pgError("reassign delivery order", err)
	}
	return out, nil
}

// InsertDeliveryRating persists the rating of a delivery order. A second rating yields ErrDuplicate.
func (q *pgQueries) InsertDeliveryRating(ctx context.Context, rating DeliveryRating) (*DeliveryRating, error) {
	const stmt = `
INSERT INTO delivery_ratings (id, delivery_order_id, delivery_person_id, customer_id, rating, comment)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + ratingColumns
	if rating.ID == "" {
		rating.ID = uuid.NewString()
	}
	r, err := scanRating(q.db.QueryRow(ctx, stmt,
		rating.ID, rating.DeliveryOrderID, rating.DeliveryPersonID, rating.CustomerID, rating.Rating, rating.Comment))
	if err != nil {
		return nil, pgError("insert delivery rating", err)
	}
	return r, nil
}

// GetDeliveryRating loads the rating of a delivery order.
func (q *pgQueries) GetDeliveryRating(ctx context.Context, deliveryOrderID string) (*DeliveryRating, error) {
	r, err := scanRating(q.db.QueryRow(ctx,
		`SELECT `+ratingColumns+` FROM delivery_ratings WHERE delivery_order_id = $1`, deliveryOrderID))
	if err != nil {
		return nil, pgError("get delivery rating", err)
	}
	return r, nil
}

// FindLatestConversation returns the most recent conversation with the customer on channel.
func (q *pgQueries) FindLatestConversation(ctx context.Context, businessID, customerID, channel string) (*Conversation, error) {
	const stmt = `
SELECT ` + conversationColumns + `
FROM conversations
WHERE business_id = $1 AND customer_id = $2 AND channel = $3
ORDER BY created_at DESC
LIMIT 1;
`
	c, err := scanConversation(q.db.QueryRow(ctx, stmt, businessID, customerID, channel))
	if err != nil {
		return nil, pgError("find conversation", err)
	}
	return c, nil
}

// InsertConversation opens a new conversation.
func (q *pgQueries) InsertConversation(ctx context.Context, conv Conversation) (*Conversation, error) {
	const stmt = `
INSERT INTO conversations (id, business_id, customer_id, channel)
VALUES ($1, $2, $3, $4)
RETURNING ` + conversationColumns
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	c, err := scanConversation(q.db.QueryRow(ctx, stmt, conv.ID, conv.BusinessID, conv.CustomerID, conv.Channel))
	if err != nil {
		return nil, pgError("insert conversation", err)
	}
	return c, nil
}

// InsertMessage appends a message and touches the conversation.
func (q *pgQueries) InsertMessage(ctx context.Context, msg Message) (*Message, error) {
	const stmt = `
INSERT INTO messages (id, conversation_id, role, content)
VALUES ($1, $2, $3, $4)
RETURNING ` + messageColumns
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	m, err := scanMessage(q.db.QueryRow(ctx, stmt, msg.ID, msg.ConversationID, msg.Role, msg.Content))
	if err != nil {
		return nil, pgError("insert message", err)
	}
	if _, err := q.db.Exec(ctx, `UPDATE conversations SET last_message_at = $2 WHERE id = $1`, m.ConversationID, m.CreatedAt); err != nil {
		return nil, pgError("touch conversation", err)
	}
	return m, nil
}

// ListRecentMessages returns the latest messages of a conversation, newest first.
func (q *pgQueries) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	const stmt = `
SELECT ` + messageColumns + `
FROM messages
WHERE conversation_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := q.db.Query(ctx, stmt, conversationID, limit)
	if err != nil {
		return nil, pgError("list recent messages", err)
	}
	defer rows.Close()

	var records []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recent message: %w", err)
		}
		records = append(records, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}
	return records, nil
}

// InsertOutboxEvent records a side effect for the relay.
func (q *pgQueries) InsertOutboxEvent(ctx context.Context, ev OutboxEvent) error {
	const stmt = `
INSERT INTO outbox_events (kind, payload, available_at)
VALUES ($1, $2, $3);
`
	availableAt := ev.AvailableAt
	if availableAt.IsZero() {
		availableAt = time.Now()
	}
	if _, err := q.db.Exec(ctx, stmt, ev.Kind, string(ev.Payload), availableAt); err != nil {
		return pgError("insert outbox event", err)
	}
	return nil
}

// ClaimOutboxEvents leases up to limit due events until now+lease.
func (q *pgQueries) ClaimOutboxEvents(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]OutboxEvent, error) {
	const stmt = `
UPDATE outbox_events
SET available_at = $2
WHERE id IN (
    SELECT id FROM outbox_events
    WHERE processed_at IS NULL AND parked_at IS NULL AND available_at <= $1
    ORDER BY id
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
RETURNING id, kind, payload, attempts, available_at, processed_at, last_error, created_at;
`
	rows, err := q.db.Query(ctx, stmt, now, now.Add(lease), limit)
	if err != nil {
		return nil, pgError("claim outbox events", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var (
			ev      OutboxEvent
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Kind, &payload, &ev.Attempts, &ev.AvailableAt, &ev.ProcessedAt, &ev.LastError, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}

// CompleteOutboxEvent marks an event processed.
func (q *pgQueries) CompleteOutboxEvent(ctx context.Context, id int64, at time.Time) error {
	if _, err := q.db.Exec(ctx,
		`UPDATE outbox_events SET processed_at = $2, attempts = attempts + 1, last_error = NULL WHERE id = $1`, id, at); err != nil {
		return pgError("complete outbox event", err)
	}
	return nil
}

// RetryOutboxEvent reschedules a failed event.
func (q *pgQueries) RetryOutboxEvent(ctx context.Context, id int64, next time.Time, lastErr string) error {
	if _, err := q.db.Exec(ctx,
		`UPDATE outbox_events SET attempts = attempts + 1, available_at = $2, last_error = $3 WHERE id = $1`, id, next, lastErr); err != nil {
		return pgError("retry outbox event", err)
	}
	return nil
}

// ParkOutboxEvent stops retrying an event and keeps its last error.
func (q *pgQueries) ParkOutboxEvent(ctx context.Context, id int64, at time.Time, lastErr string) error {
	if _, err := q.db.Exec(ctx,
		`UPDATE outbox_events SET attempts = attempts + 1, parked_at = $2, last_error = $3 WHERE id = $1`, id, at, lastErr); err != nil {
		return pgError("park outbox event", err)
	}
	return nil
}

// UpsertChannelSession stores the chat connection state of a tenant.
func (q *pgQueries) UpsertChannelSession(ctx context.Context, session ChannelSession) error {
	const stmt = `
INSERT INTO channel_sessions (business_id, device_jid, status, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (business_id) DO UPDATE SET
    device_jid = CASE WHEN EXCLUDED.device_jid <> '' THEN EXCLUDED.device_jid ELSE channel_sessions.device_jid END,
    status = EXCLUDED.status,
    updated_at = NOW();
`
	if _, err := q.db.Exec(ctx, stmt, session.BusinessID, session.DeviceJID, session.Status); err != nil {
		return pgError("upsert channel session", err)
	}
	return nil
}

// ListChannelSessions returns every persisted chat connection.
func (q *pgQueries) ListChannelSessions(ctx context.Context) ([]ChannelSession, error) {
	rows, err := q.db.Query(ctx, `SELECT business_id, device_jid, status, updated_at FROM channel_sessions ORDER BY business_id`)
	if err != nil {
		return nil, pgError("list channel sessions", err)
	}
	defer rows.Close()

	var sessions []ChannelSession
	for rows.Next() {
		var s ChannelSession
		if err := rows.Scan(&s.BusinessID, &s.DeviceJID, &s.Status, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan channel session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel sessions: %w", err)
	}
	return sessions, nil
}

// pageBounds clamps list paging to sane values.
func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
