package order

import (
	"errors"
	"testing"
	"time"
)

func TestValidatorMarket_AcceptsSupportedSymbol(t *testing.T) {
	v := NewValidator(DefaultLimits())

	spec, err := v.Market("btcusdt", "buy", 0.01)
	if err != nil {
		t.Fatalf("Market returned error: %v", err)
	}
	if spec.Symbol != "BTCUSDT" {
		t.Errorf("expected normalized symbol BTCUSDT, got %s", spec.Symbol)
	}
	if spec.Side != SideBuy {
		t.Errorf("expected side BUY, got %s", spec.Side)
	}
	if spec.Quantity != 0.01 {
		t.Errorf("expected quantity 0.01, got %v", spec.Quantity)
	}
}

func TestValidatorMarket_RejectsUnsupportedSymbol(t *testing.T) {
	v := NewValidator(DefaultLimits())

	_, err := v.Market("INVALID", "BUY", 0.01)
	assertValidationError(t, err, "symbol")
}

func TestValidatorMarket_RejectsQuantityBelowMinimum(t *testing.T) {
	v := NewValidator(DefaultLimits())

	_, err := v.Market("BTCUSDT", "BUY", 0.0001)
	assertValidationError(t, err, "quantity")
}

func TestValidatorMarket_RejectsBadSide(t *testing.T) {
	v := NewValidator(DefaultLimits())

	_, err := v.Market("BTCUSDT", "HOLD", 0.01)
	assertValidationError(t, err, "side")
}

func TestValidatorLimit_RejectsOutOfRangePrice(t *testing.T) {
	v := NewValidator(DefaultLimits())

	if _, err := v.Limit("BTCUSDT", "BUY", 0.01, 0, ""); err == nil {
		t.Fatal("expected error for zero price")
	}
	_, err := v.Limit("BTCUSDT", "BUY", 0.01, 1e7, "")
	assertValidationError(t, err, "price")
}

func TestValidatorLimit_DefaultsTimeInForce(t *testing.T) {
	v := NewValidator(DefaultLimits())

	spec, err := v.Limit("BTCUSDT", "SELL", 0.01, 43000, "")
	if err != nil {
		t.Fatalf("Limit returned error: %v", err)
	}
	if spec.TimeInForce != TimeInForceGTC {
		t.Errorf("expected default GTC, got %s", spec.TimeInForce)
	}

	if _, err := v.Limit("BTCUSDT", "SELL", 0.01, 43000, "DAY"); err == nil {
		t.Fatal("expected error for unsupported time in force")
	}
}

func TestValidatorStopLimit_BuyRequiresStopBelowLimit(t *testing.T) {
	v := NewValidator(DefaultLimits())

	if _, err := v.StopLimit("BTCUSDT", "BUY", 0.01, 41000, 41500, ""); err != nil {
		t.Fatalf("valid BUY stop-limit rejected: %v", err)
	}

	_, err := v.StopLimit("BTCUSDT", "BUY", 0.01, 42000, 41500, "")
	assertValidationError(t, err, "stopPrice")
}

func TestValidatorStopLimit_SellRequiresStopAboveLimit(t *testing.T) {
	v := NewValidator(DefaultLimits())

	if _, err := v.StopLimit("BTCUSDT", "SELL", 0.01, 42000, 41500, ""); err != nil {
		t.Fatalf("valid SELL stop-limit rejected: %v", err)
	}

	_, err := v.StopLimit("BTCUSDT", "SELL", 0.01, 41000, 41500, "")
	assertValidationError(t, err, "stopPrice")
}

func TestValidatorOCO_BuyRequiresTakeProfitAboveStopLoss(t *testing.T) {
	v := NewValidator(DefaultLimits())

	_, err := v.OCO("BTCUSDT", "BUY", 0.01, 40000, 45000, 0)
	assertValidationError(t, err, "takeProfit")
}

func TestValidatorOCO_StopLossLimitDefaultsToStopLoss(t *testing.T) {
	v := NewValidator(DefaultLimits())

	spec, err := v.OCO("BTCUSDT", "SELL", 0.01, 41000, 44000, 0)
	if err != nil {
		t.Fatalf("OCO returned error: %v", err)
	}
	if spec.StopLossLimit != spec.StopLoss {
		t.Errorf("expected stop loss limit to default to %v, got %v", spec.StopLoss, spec.StopLossLimit)
	}
}

func TestValidatorTWAP_Bounds(t *testing.T) {
	v := NewValidator(DefaultLimits())

	if _, err := v.TWAP("BTCUSDT", "BUY", 1, 1, time.Minute, "", 0); err == nil {
		t.Fatal("expected error for splits below minimum")
	}
	if _, err := v.TWAP("BTCUSDT", "BUY", 1, 101, time.Minute, "", 0); err == nil {
		t.Fatal("expected error for splits above maximum")
	}
	if _, err := v.TWAP("BTCUSDT", "BUY", 1, 5, 100*time.Millisecond, "", 0); err == nil {
		t.Fatal("expected error for interval below minimum")
	}
	if _, err := v.TWAP("BTCUSDT", "BUY", 1, 5, time.Minute, KindLimit, 0); err == nil {
		t.Fatal("expected error for limit slices without price")
	}

	spec, err := v.TWAP("BTCUSDT", "BUY", 1, 5, time.Minute, "", 0)
	if err != nil {
		t.Fatalf("TWAP returned error: %v", err)
	}
	if spec.Kind != KindMarket {
		t.Errorf("expected default kind MARKET, got %s", spec.Kind)
	}
}

func TestValidatorGrid_RejectsInvertedBounds(t *testing.T) {
	v := NewValidator(DefaultLimits())

	_, err := v.Grid("BTCUSDT", 45000, 40000, 10, 1, "")
	assertValidationError(t, err, "lowerPrice")
}

func TestValidatorGrid_DefaultsToLong(t *testing.T) {
	v := NewValidator(DefaultLimits())

	spec, err := v.Grid("BTCUSDT", 40000, 45000, 10, 1, "")
	if err != nil {
		t.Fatalf("Grid returned error: %v", err)
	}
	if spec.Direction != GridLong {
		t.Errorf("expected default direction LONG, got %s", spec.Direction)
	}

	if _, err := v.Grid("BTCUSDT", 40000, 45000, 1, 1, ""); err == nil {
		t.Fatal("expected error for too few grids")
	}
}

func assertValidationError(t *testing.T, err error, field string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if verr.Field != field {
		t.Errorf("expected field %q, got %q", field, verr.Field)
	}
}
