package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// sqliteQueries runs statements on the database or inside a transaction.
type sqliteQueries struct {
	db sqlQuerier
}

func (q *sqliteQueries) GetBusiness(ctx context.Context, id string) (*Business, error) {
	b, err := scanBusiness(q.db.QueryRowContext(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteError("get business", err)
	}
	return b, nil
}

func (q *sqliteQueries) GetCustomer(ctx context.Context, businessID, id string) (*Customer, error) {
	c, err := scanCustomer(q.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = ? AND business_id = ?`, id, businessID))
	if err != nil {
		return nil, sqliteError("get customer", err)
	}
	return c, nil
}

func (q *sqliteQueries) UpsertCustomerByPhone(ctx context.Context, profile CustomerProfile) (*Customer, error) {
	const stmt = `
INSERT INTO customers (id, business_id, name, phone)
VALUES (?, ?, ?, ?)
ON CONFLICT (business_id, phone) WHERE phone IS NOT NULL DO UPDATE SET
    name = CASE WHEN excluded.name <> excluded.phone THEN excluded.name ELSE customers.name END,
    updated_at = CURRENT_TIMESTAMP
RETURNING ` + customerColumns
	name := profile.Name
	if name == "" {
		name = profile.Phone
	}
	c, err := scanCustomer(q.db.QueryRowContext(ctx, stmt, uuid.NewString(), profile.BusinessID, name, profile.Phone))
	if err != nil {
		return nil, sqliteError("upsert customer", err)
	}
	return c, nil
}

func (q *sqliteQueries) ListProductsByIDs(ctx context.Context, businessID string, ids []string) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	stmt := `
SELECT id, business_id, name, price_cents
FROM products
WHERE business_id = ? AND deleted_at IS NULL AND id IN (` + placeholders(len(ids)) + `);
`
	args := make([]any, 0, len(ids)+1)
	args = append(args, businessID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := q.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, sqliteError("list products", err)
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

func (q *sqliteQueries) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	const stmt = `
INSERT INTO orders (id, business_id, customer_id, status, total_cents, exchange_rate, payment_method,
    delivery_address, delivery_latitude, delivery_longitude, shipping_cost_cents, notes)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + orderColumns
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	o, err := scanOrder(q.db.QueryRowContext(ctx, stmt,
		order.ID,
		order.BusinessID,
		order.CustomerID,
		string(order.Status),
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
		return nil, sqliteError("insert order", err)
	}
	return o, nil
}

func (q *sqliteQueries) InsertOrderItem(ctx context.Context, item OrderItem) (*OrderItem, error) {
	const stmt = `
INSERT INTO order_items (id, order_id, product_id, quantity, unit_price_cents, variant)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING ` + orderItemColumns
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	it, err := scanOrderItem(q.db.QueryRowContext(ctx, stmt,
		item.ID, item.OrderID, item.ProductID, item.Quantity, item.UnitPriceCents, docParam(item.Variant)))
	if err != nil {
		return nil, sqliteError("insert order item", err)
	}
	return it, nil
}

func (q *sqliteQueries) GetOrder(ctx context.Context, businessID, id string) (*Order, error) {
	o, err := scanOrder(q.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ? AND business_id = ?`, id, businessID))
	if err != nil {
		return nil, sqliteError("get order", err)
	}
	return o, nil
}

func (q *sqliteQueries) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(q.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteError("get order", err)
	}
	return o, nil
}

func (q *sqliteQueries) ListOrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+orderItemColumns+` FROM order_items WHERE order_id = ? ORDER BY rowid`, orderID)
	if err != nil {
		return nil, sqliteError("list order items", err)
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

func (q *sqliteQueries) ListOrders(ctx context.Context, businessID string, filter OrderFilter) ([]Order, error) {
	const stmt = `
SELECT ` + orderColumns + `
FROM orders
WHERE business_id = ?
  AND (? = '' OR status = ?)
  AND (? = '' OR customer_id = ?)
ORDER BY created_at DESC, rowid DESC
LIMIT ? OFFSET ?;
`
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	status := string(filter.Status)
	rows, err := q.db.QueryContext(ctx, stmt, businessID, status, status, filter.CustomerID, filter.CustomerID, limit, offset)
	if err != nil {
		return nil, sqliteError("list orders", err)
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

func (q *sqliteQueries) UpdateOrderStatus(ctx context.Context, id string, status OrderStatus) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(status), id)
	if err != nil {
		return sqliteError("update order status", err)
	}
	return requireAffected(res, "update order status")
}

func (q *sqliteQueries) DeleteOrder(ctx context.Context, businessID, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ? AND business_id = ?`, id, businessID)
	if err != nil {
		return sqliteError("delete order", err)
	}
	return requireAffected(res, "delete order")
}

func (q *sqliteQueries) InsertPayment(ctx context.Context, payment Payment) (*Payment, error) {
	const stmt = `
INSERT INTO payments (id, order_id, method, reference, proof_url, amount_cents, status, notes)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + paymentColumns
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	p, err := scanPayment(q.db.QueryRowContext(ctx, stmt,
		payment.ID, payment.OrderID, payment.Method, payment.Reference, payment.ProofURL,
		payment.AmountCents, string(payment.Status), payment.Notes))
	if err != nil {
		return nil, sqliteError("insert payment", err)
	}
	return p, nil
}

func (q *sqliteQueries) GetPayment(ctx context.Context, businessID, id string) (*Payment, error) {
	const stmt = `
SELECT ` + paymentColumns + `
FROM payments
WHERE id = ? AND order_id IN (SELECT id FROM orders WHERE business_id = ?);
`
	p, err := scanPayment(q.db.QueryRowContext(ctx, stmt, id, businessID))
	if err != nil {
		return nil, sqliteError("get payment", err)
	}
	return p, nil
}

func (q *sqliteQueries) DecidePayment(ctx context.Context, decision PaymentDecision) (*Payment, error) {
	const stmt = `
UPDATE payments
SET status = ?, verified_by = ?, verified_at = ?, notes = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = ?
RETURNING ` + paymentColumns
	p, err := scanPayment(q.db.QueryRowContext(ctx, stmt,
		string(decision.To), decision.VerifiedBy, decision.VerifiedAt.UTC(), decision.Notes,
		decision.ID, string(decision.From)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decide payment: %w", ErrStaleState)
	}
	if err != nil {
		return nil, sqliteError("decide payment", err)
	}
	return p, nil
}

func (q *sqliteQueries) ListPayments(ctx context.Context, businessID string, filter PaymentFilter) ([]Payment, error) {
	const stmt = `
SELECT ` + paymentColumns + `
FROM payments
WHERE order_id IN (SELECT id FROM orders WHERE business_id = ?)
  AND (? = '' OR status = ?)
  AND (? = '' OR order_id = ?)
ORDER BY created_at DESC, rowid DESC;
`
	status := string(filter.Status)
	rows, err := q.db.QueryContext(ctx, stmt, businessID, status, status, filter.OrderID, filter.OrderID)
	if err != nil {
		return nil, sqliteError("list payments", err)
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

func (q *sqliteQueries) GetDeliveryPerson(ctx context.Context, businessID, id string) (*DeliveryPerson, error) {
	dp, err := scanDeliveryPerson(q.db.QueryRowContext(ctx,
		`SELECT `+deliveryPersonColumns+` FROM delivery_persons WHERE id = ? AND business_id = ?`, id, businessID))
	if err != nil {
		return nil, sqliteError("get delivery person", err)
	}
	return dp, nil
}

func (q *sqliteQueries) ListDeliveryPersons(ctx context.Context, businessID string, availableOnly bool) ([]DeliveryPerson, error) {
	const stmt = `
SELECT ` + deliveryPersonColumns + `
FROM delivery_persons
WHERE business_id = ? AND (? = 0 OR is_available = 1)
ORDER BY name, id;
`
	rows, err := q.db.QueryContext(ctx, stmt, businessID, availableOnly)
	if err != nil {
		return nil, sqliteError("list delivery persons", err)
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

func (q *sqliteQueries) SetDeliveryPersonAvailable(ctx context.Context, id string, available bool) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE delivery_persons SET is_available = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, available, id)
	if err != nil {
		return sqliteError("set delivery person availability", err)
	}
	return requireAffected(res, "set delivery person availability")
}

func (q *sqliteQueries) RecordCompletedDelivery(ctx context.Context, id string) error {
	const stmt = `
UPDATE delivery_persons
SET completed_orders = completed_orders + 1,
    total_deliveries = total_deliveries + 1,
    is_available = 1,
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?;
`
	res, err := q.db.ExecContext(ctx, stmt, id)
	if err != nil {
		return sqliteError("record completed delivery", err)
	}
	return requireAffected(res, "record completed delivery")
}

func (q *sqliteQueries) ApplyDeliveryRating(ctx context.Context, id string, rating int) (*DeliveryPerson, error) {
	const stmt = `
UPDATE delivery_persons
SET rating_count = rating_count + 1,
    rating_sum = rating_sum + ?,
    average_rating = CAST(rating_sum + ? AS REAL) / (rating_count + 1),
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?
RETURNING ` + deliveryPersonColumns
	dp, err := scanDeliveryPerson(q.db.QueryRowContext(ctx, stmt, rating, rating, id))
	if err != nil {
		return nil, sqliteError("apply delivery rating", err)
	}
	return dp, nil
}

func (q *sqliteQueries) InsertDeliveryOrder(ctx context.Context, d DeliveryOrder) (*DeliveryOrder, error) {
	const stmt = `
INSERT INTO delivery_orders (id, business_id, order_id, delivery_person_id, status,
    pickup_address, pickup_latitude, pickup_longitude, delivery_address, delivery_latitude, delivery_longitude,
    fee_cents, otp_code, notes)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + deliveryOrderColumns
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	out, err := scanDeliveryOrder(q.db.QueryRowContext(ctx, stmt,
		d.ID, d.BusinessID, d.OrderID, d.DeliveryPersonID, string(d.Status),
		d.PickupAddress, d.PickupLatitude, d.PickupLongitude,
		d.DeliveryAddress, d.DeliveryLatitude, d.DeliveryLongitude,
		d.FeeCents, d.OTPCode, d.Notes))
	if err != nil {
		return nil, sqliteError("insert delivery order", err)
	}
	return out, nil
}

func (q *sqliteQueries) GetDeliveryOrderByOrderID(ctx context.Context, orderID string) (*DeliveryOrder, error) {
	d, err := scanDeliveryOrder(q.db.QueryRowContext(ctx,
		`SELECT `+deliveryOrderColumns+` FROM delivery_orders WHERE order_id = ?`, orderID))
	if err != nil {
		return nil, sqliteError("get delivery order", err)
	}
	return d, nil
}

func (q *sqliteQueries) TransitionDeliveryOrder(ctx context.Context, tr DeliveryTransition) (*DeliveryOrder, error) {
	column, err := deliveryTimestampColumn(tr.To)
	if err != nil {
		return nil, err
	}
	if len(tr.From) == 0 {
		return nil, fmt.Errorf("transition delivery order: %w", ErrStaleState)
	}
	stmt := `
UPDATE delivery_orders
SET status = ?, ` + column + ` = ?, failure_reason = COALESCE(?, failure_reason), updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status IN (` + placeholders(len(tr.From)) + `)
RETURNING ` + deliveryOrderColumns
	args := []any{string(tr.To), tr.At.UTC(), tr.Reason, tr.ID}
	for _, s := range tr.From {
		args = append(args, string(s))
	}
	d, err := scanDeliveryOrder(q.db.QueryRowContext(ctx, stmt, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transition delivery order: %w", ErrStaleState)
	}
	if err != nil {
		return nil, sqliteError("transition delivery order", err)
	}
	return d, nil
}

func (q *sqliteQueries) ReassignDeliveryOrder(ctx context.Context, d DeliveryOrder) (*DeliveryOrder, error) {
	const stmt = `
UPDATE delivery_orders
SET delivery_person_id = ?, status = 'ASSIGNED',
    pickup_address = ?, pickup_latitude = ?, pickup_longitude = ?,
    delivery_address = ?, delivery_latitude = ?, delivery_longitude = ?,
    fee_cents = ?, otp_code = ?, notes = ?,
    picked_up_at = NULL, delivered_at = NULL, failed_at = NULL, failure_reason = NULL, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = 'FAILED'
RETURNING ` + deliveryOrderColumns
	out, err := scanDeliveryOrder(q.db.QueryRowContext(ctx, stmt,
		d.DeliveryPersonID,
		d.PickupAddress, d.PickupLatitude, d.PickupLongitude,
		d.DeliveryAddress, d.DeliveryLatitude, d.DeliveryLongitude,
		d.FeeCents, d.OTPCode, d.Notes, d.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reassign delivery order: %w", ErrStaleState)
	}
	if err != nil {
		return nil, sqliteError("reassign delivery order", err)
	}
	return out, nil
}

func (q *sqliteQueries) InsertDeliveryRating(ctx context.Context, rating DeliveryRating) (*DeliveryRating, error) {
	const stmt = `
INSERT INTO delivery_ratings (id, delivery_order_id, delivery_person_id, customer_id, rating, comment)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING ` + ratingColumns
	if rating.ID == "" {
		rating.ID = uuid.NewString()
	}
	r, err := scanRating(q.db.QueryRowContext(ctx, stmt,
		rating.ID, rating.DeliveryOrderID, rating.DeliveryPersonID, rating.CustomerID, rating.Rating, rating.Comment))
	if err != nil {
		return nil, sqliteError("insert delivery rating", err)
	}
	return r, nil
}

func (q *sqliteQueries) GetDeliveryRating(ctx context.Context, deliveryOrderID string) (*DeliveryRating, error) {
	r, err := scanRating(q.db.QueryRowContext(ctx,
		`SELECT `+ratingColumns+` FROM delivery_ratings WHERE delivery_order_id = ?`, deliveryOrderID))
	if err != nil {
		return nil, sqliteError("get delivery rating", err)
	}
	return r, nil
}

func (q *sqliteQueries) FindLatestConversation(ctx context.Context, businessID, customerID, channel string) (*Conversation, error) {
	const stmt = `
SELECT ` + conversationColumns + `
FROM conversations
WHERE business_id = ? AND customer_id = ? AND channel = ?
ORDER BY created_at DESC, rowid DESC
LIMIT 1;
`
	c, err := scanConversation(q.db.QueryRowContext(ctx, stmt, businessID, customerID, channel))
	if err != nil {
		return nil, sqliteError("find conversation", err)
	}
	return c, nil
}

func (q *sqliteQueries) InsertConversation(ctx context.Context, conv Conversation) (*Conversation, error) {
	const stmt = `
INSERT INTO conversations (id, business_id, customer_id, channel)
VALUES (?, ?, ?, ?)
RETURNING ` + conversationColumns
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	c, err := scanConversation(q.db.QueryRowContext(ctx, stmt, conv.ID, conv.BusinessID, conv.CustomerID, conv.Channel))
	if err != nil {
		return nil, sqliteError("insert conversation", err)
	}
	return c, nil
}

func (q *sqliteQueries) InsertMessage(ctx context.Context, msg Message) (*Message, error) {
	const stmt = `
INSERT INTO messages (id, conversation_id, role, content)
VALUES (?, ?, ?, ?)
RETURNING ` + messageColumns
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	m, err := scanMessage(q.db.QueryRowContext(ctx, stmt, msg.ID, msg.ConversationID, string(msg.Role), msg.Content))
	if err != nil {
		return nil, sqliteError("insert message", err)
	}
	if _, err := q.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`, m.CreatedAt.UTC(), m.ConversationID); err != nil {
		return nil, sqliteError("touch conversation", err)
	}
	return m, nil
}

func (q *sqliteQueries) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	const stmt = `
SELECT ` + messageColumns + `
FROM messages
WHERE conversation_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`
	rows, err := q.db.QueryContext(ctx, stmt, conversationID, limit)
	if err != nil {
		return nil, sqliteError("list recent messages", err)
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

func (q *sqliteQueries) InsertOutboxEvent(ctx context.Context, ev OutboxEvent) error {
	const stmt = `
INSERT INTO outbox_events (kind, payload, available_at, created_at)
VALUES (?, ?, ?, ?);
`
	now := time.Now()
	availableAt := ev.AvailableAt
	if availableAt.IsZero() {
		availableAt = now
	}
	if _, err := q.db.ExecContext(ctx, stmt, ev.Kind, string(ev.Payload), availableAt.UnixMilli(), now.UnixMilli()); err != nil {
		return sqliteError("insert outbox event", err)
	}
	return nil
}

func (q *sqliteQueries) ClaimOutboxEvents(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]OutboxEvent, error) {
	const stmt = `
UPDATE outbox_events
SET available_at = ?
WHERE id IN (
    SELECT id FROM outbox_events
    WHERE processed_at IS NULL AND parked_at IS NULL AND available_at <= ?
    ORDER BY id
    LIMIT ?
)
RETURNING id, kind, payload, attempts, available_at, processed_at, last_error, created_at;
`
	rows, err := q.db.QueryContext(ctx, stmt, now.Add(lease).UnixMilli(), now.UnixMilli(), limit)
	if err != nil {
		return nil, sqliteError("claim outbox events", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var (
			ev                     OutboxEvent
			payload                string
			availableAt, createdAt int64
			processedAt            sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &ev.Kind, &payload, &ev.Attempts, &availableAt, &processedAt, &ev.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		ev.Payload = []byte(payload)
		ev.AvailableAt = time.UnixMilli(availableAt)
		ev.CreatedAt = time.UnixMilli(createdAt)
		if processedAt.Valid {
			t := time.UnixMilli(processedAt.Int64)
			ev.ProcessedAt = &t
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}

func (q *sqliteQueries) CompleteOutboxEvent(ctx context.Context, id int64, at time.Time) error {
	if _, err := q.db.ExecContext(ctx,
		`UPDATE outbox_events SET processed_at = ?, attempts = attempts + 1, last_error = NULL WHERE id = ?`, at.UnixMilli(), id); err != nil {
		return sqliteError("complete outbox event", err)
	}
	return nil
}

func (q *sqliteQueries) RetryOutboxEvent(ctx context.Context, id int64, next time.Time, lastErr string) error {
	if _, err := q.db.ExecContext(ctx,
		`UPDATE outbox_events SET attempts = attempts + 1, available_at = ?, last_error = ? WHERE id = ?`, next.UnixMilli(), lastErr, id); err != nil {
		return sqliteError("retry outbox event", err)
	}
	return nil
}

func (q *sqliteQueries) ParkOutboxEvent(ctx context.Context, id int64, at time.Time, lastErr string) error {
	if _, err := q.db.ExecContext(ctx,
		`UPDATE outbox_events SET attempts = attempts + 1, parked_at = ?, last_error = ? WHERE id = ?`, at.UnixMilli(), lastErr, id); err != nil {
		return sqliteError("park outbox event", err)
	}
	return nil
}

func (q *sqliteQueries) UpsertChannelSession(ctx context.Context, session ChannelSession) error {
	const stmt = `
INSERT INTO channel_sessions (business_id, device_jid, status, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (business_id) DO UPDATE SET
    device_jid = CASE WHEN excluded.device_jid <> '' THEN excluded.device_jid ELSE channel_sessions.device_jid END,
    status = excluded.status,
    updated_at = CURRENT_TIMESTAMP;
`
	if _, err := q.db.ExecContext(ctx, stmt, session.BusinessID, session.DeviceJID, session.Status); err != nil {
		return sqliteError("upsert channel session", err)
	}
	return nil
}

func (q *sqliteQueries) ListChannelSessions(ctx context.Context) ([]ChannelSession, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT business_id, device_jid, status, updated_at FROM channel_sessions ORDER BY business_id`)
	if err != nil {
		return nil, sqliteError("list channel sessions", err)
	}
	defer rows.Close()

	var sessions []ChannelSession
	for rows.Next() {
		var s ChannelSession
		if err := rows.Scan(&s.BusinessID, &s.DeviceJID, &s.Status, ts(&s.UpdatedAt)); err != nil {
			return nil, fmt.Errorf("scan channel session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel sessions: %w", err)
	}
	return sessions, nil
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
