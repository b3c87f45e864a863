// Package sales holds the queryable sales data model and its business rules.
package sales

import (
	"time"

	"github.com/capitalize-ai/chat-analytics/internal/schema"
)

// Category classifies a product.
type Category string

const (
	CategoryElectronics Category = "electronics"
	CategoryClothing    Category = "clothing"
	CategoryFood        Category = "food"
	CategoryOther       Category = "other"
)

// Choices lists the allowed categories.
func (Category) Choices() []schema.Choice {
	return []schema.Choice{
		{Value: string(CategoryElectronics), Label: "Electronics"},
		{Value: string(CategoryClothing), Label: "Clothing"},
		{Value: string(CategoryFood), Label: "Food"},
		{Value: string(CategoryOther), Label: "Other"},
	}
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
	StatusRefunded  OrderStatus = "refunded"
)

// Choices lists the allowed order statuses.
func (OrderStatus) Choices() []schema.Choice {
	return []schema.Choice{
		{Value: string(StatusPending), Label: "Pending"},
		{Value: string(StatusCompleted), Label: "Completed"},
		{Value: string(StatusCancelled), Label: "Cancelled"},
		{Value: string(StatusRefunded), Label: "Refunded"},
	}
}

// Product is an item available for sale.
type Product struct {
	ID        int64     `db:"id" schema:"pk"`
	Name      string    `db:"name"`
	Category  Category  `db:"category"`
	Price     float64   `db:"price" schema:"type=DECIMAL"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
}

func (Product) TableName() string        { return "sales_product" }
func (Product) TableDescription() string { return "Products available for sale." }

// Order is a customer purchase.
type Order struct {
	ID            int64       `db:"id" schema:"pk"`
	CustomerName  string      `db:"customer_name"`
	CustomerEmail string      `db:"customer_email" schema:"type=VARCHAR (email)"`
	TotalAmount   float64     `db:"total_amount" schema:"type=DECIMAL"`
	Status        OrderStatus `db:"status"`
	CreatedAt     time.Time   `db:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"`
}

func (Order) TableName() string        { return "sales_order" }
func (Order) TableDescription() string { return "Customer purchase orders." }

// OrderItem is one line of an order.
type OrderItem struct {
	ID         int64   `db:"id" schema:"pk"`
	OrderID    int64   `db:"order_id" schema:"fk=sales_order"`
	ProductID  int64   `db:"product_id" schema:"fk=sales_product"`
	Quantity   uint32  `db:"quantity"`
	UnitPrice  float64 `db:"unit_price" schema:"type=DECIMAL"`
	TotalPrice float64 `db:"total_price" schema:"type=DECIMAL"`
}

func (OrderItem) TableName() string        { return "sales_order_item" }
func (OrderItem) TableDescription() string { return "Individual line items inside an order." }

// Models returns the sales tables in catalog order.
func Models() []any {
	return []any{Product{}, Order{}, OrderItem{}}
}
