package adapter

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"nexus-stock/internal/service/inventory/domain"
)

// AlertCELAdapter 是 port.StockAlertRule 的 CEL 实现。
// 规则在创建时编译一次，可引用的变量见 snapshotVars。
type AlertCELAdapter struct {
	expr    string
	program cel.Program
}

func NewAlertCELAdapter(expr string) (*AlertCELAdapter, error) {
	env, err := cel.NewEnv(
		cel.Variable("total_stock", cel.IntType),
		cel.Variable("available_stock", cel.IntType),
		cel.Variable("reserved_stock", cel.IntType),
		cel.Variable("sold_stock", cel.IntType),
		cel.Variable("reorder_level", cel.IntType),
		cel.Variable("min_stock_level", cel.IntType),
		cel.Variable("max_stock_level", cel.IntType),
		cel.Variable("product_id", cel.StringType),
		cel.Variable("shop_id", cel.StringType),
		cel.Variable("warehouse_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel: new env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("cel: compile %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("cel: rule %q must return bool, got %s", expr, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel: program: %w", err)
	}
	return &AlertCELAdapter{expr: expr, program: program}, nil
}

func snapshotVars(s domain.StockSnapshot) map[string]any {
	return map[string]any{
		"total_stock":     s.TotalStock,
		"available_stock": s.AvailableStock,
		"reserved_stock":  s.ReservedStock,
		"sold_stock":      s.SoldStock,
		"reorder_level":   s.ReorderLevel,
		"min_stock_level": s.MinStockLevel,
		"max_stock_level": s.MaxStockLevel,
		"product_id":      s.StockUnit.ProductID,
		"shop_id":         s.StockUnit.ShopID,
		"warehouse_id":    s.StockUnit.WarehouseID,
	}
}

func (a *AlertCELAdapter) Evaluate(snapshot domain.StockSnapshot) (bool, error) {
	out, _, err := a.program.Eval(snapshotVars(snapshot))
	if err != nil {
		return false, fmt.Errorf("cel: eval %q: %w", a.expr, err)
	}
	low, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel: rule %q returned %T", a.expr, out.Value())
	}
	return low, nil
}
