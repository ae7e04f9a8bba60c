package pipeline

import (
	"settlement-reconciliation-service/pkg/errors"
)

// ColumnConfig names the spreadsheet columns the reconciliation pipeline
// reads. Defaults match the labels of the marketplace settlement export;
// every label can be overridden from configuration.
type ColumnConfig struct {
	OrderNumber  string `json:"order_number" mapstructure:"order_number"`
	DocumentType string `json:"document_type" mapstructure:"document_type"`
	FeeItem      string `json:"fee_item" mapstructure:"fee_item"`
	ProductCode  string `json:"product_code" mapstructure:"product_code"`
	ProductName  string `json:"product_name" mapstructure:"product_name"`
	Quantity     string `json:"quantity" mapstructure:"quantity"`
}

// RuleConfig holds the column labels and category vocabulary the business
// rule engine matches against.
type RuleConfig struct {
	Columns ColumnConfig `json:"columns" mapstructure:"columns"`

	// Document type values
	DocumentTypeOrder        string `json:"document_type_order" mapstructure:"document_type_order"`
	DocumentTypeCancelRefund string `json:"document_type_cancel_refund" mapstructure:"document_type_cancel_refund"`

	// Fee item values
	FeeDirectOperation string `json:"fee_direct_operation" mapstructure:"fee_direct_operation"`
}

// DefaultRuleConfig returns the configuration for the standard settlement
// bill export.
func DefaultRuleConfig() *RuleConfig {
	return &RuleConfig{
		Columns: ColumnConfig{
			OrderNumber:  "订单编号",
			DocumentType: "单据类型",
			FeeItem:      "费用项目",
			ProductCode:  "商品编码",
			ProductName:  "商品名称",
			Quantity:     "数量",
		},
		DocumentTypeOrder:        "订单",
		DocumentTypeCancelRefund: "取消退款单",
		FeeDirectOperation:       "代运营服务费",
	}
}

// Validate validates the rule configuration
func (c *RuleConfig) Validate() error {
	required := map[string]string{
		"columns.order_number":        c.Columns.OrderNumber,
		"columns.document_type":       c.Columns.DocumentType,
		"columns.fee_item":            c.Columns.FeeItem,
		"columns.product_code":        c.Columns.ProductCode,
		"columns.product_name":        c.Columns.ProductName,
		"columns.quantity":            c.Columns.Quantity,
		"document_type_order":         c.DocumentTypeOrder,
		"document_type_cancel_refund": c.DocumentTypeCancelRefund,
		"fee_direct_operation":        c.FeeDirectOperation,
	}

	for setting, value := range required {
		if value == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, setting, value, nil)
		}
	}

	return nil
}

// RequiredColumns returns the column set the reconciliation pipeline
// validates before any rule runs.
func (c *RuleConfig) RequiredColumns() []string {
	return []string{
		c.Columns.OrderNumber,
		c.Columns.DocumentType,
		c.Columns.FeeItem,
		c.Columns.ProductCode,
		c.Columns.ProductName,
		c.Columns.Quantity,
	}
}
