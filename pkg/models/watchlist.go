package models

import (
    "encoding/json"
    "fmt"
    "strconv"

    "github.com/alim08/fin_desk/pkg/validation"
)

// WatchlistRow is one instrument's latest snapshot for display.
// Every field is optional: a nil pointer means the producer did not send it,
// which happens routinely for incremental streaming updates.
//
// The shape carries no limits of its own; storage enforces column limits
// (see database.ValidateRow).
type WatchlistRow struct {
    Symbol        *string  `json:"symbol,omitempty"`
    AssetType     *string  `json:"assetType,omitempty"`
    Price         *float64 `json:"price,omitempty"`
    PriceChange   *float64 `json:"priceChange,omitempty"`
    PercentChange *float64 `json:"percentChange,omitempty"`
    High          *float64 `json:"high,omitempty"`
    Low           *float64 `json:"low,omitempty"`
    UpdatedTime   *string  `json:"updatedTime,omitempty"`
    Confirmed     *bool    `json:"confirmed,omitempty"`
}

// Hash field names, shared by the JSON codec and the redis hash codec.
const (
    FieldSymbol        = "symbol"
    FieldAssetType     = "assetType"
    FieldPrice         = "price"
    FieldPriceChange   = "priceChange"
    FieldPercentChange = "percentChange"
    FieldHigh          = "high"
    FieldLow           = "low"
    FieldUpdatedTime   = "updatedTime"
    FieldConfirmed     = "confirmed"
)

// Sanitize cleans present text fields.
func (r *WatchlistRow) Sanitize() {
    validation.SanitizeOptional(r.Symbol)
    validation.SanitizeOptional(r.AssetType)
    validation.SanitizeOptional(r.UpdatedTime)
}

// PresentFields lists the JSON names of the present fields in declaration order.
func (r WatchlistRow) PresentFields() []string {
    fields := []string{}
    if r.Symbol != nil {
        fields = append(fields, FieldSymbol)
    }
    if r.AssetType != nil {
        fields = append(fields, FieldAssetType)
    }
    if r.Price != nil {
        fields = append(fields, FieldPrice)
    }
    if r.PriceChange != nil {
        fields = append(fields, FieldPriceChange)
    }
    if r.PercentChange != nil {
        fields = append(fields, FieldPercentChange)
    }
    if r.High != nil {
        fields = append(fields, FieldHigh)
    }
    if r.Low != nil {
        fields = append(fields, FieldLow)
    }
    if r.UpdatedTime != nil {
        fields = append(fields, FieldUpdatedTime)
    }
    if r.Confirmed != nil {
        fields = append(fields, FieldConfirmed)
    }
    return fields
}

// IsEmpty reports whether no field is present.
func (r WatchlistRow) IsEmpty() bool {
    return len(r.PresentFields()) == 0
}

// SymbolOr returns the symbol, or def when absent.
func (r WatchlistRow) SymbolOr(def string) string {
    if r.Symbol == nil {
        return def
    }
    return *r.Symbol
}

// Merge folds a partial update into r. Fields present in update win;
// fields absent from update keep r's value. Neither input is modified.
func (r WatchlistRow) Merge(update WatchlistRow) WatchlistRow {
    out := r.clone()
    if update.Symbol != nil {
        out.Symbol = copyPtr(update.Symbol)
    }
    if update.AssetType != nil {
        out.AssetType = copyPtr(update.AssetType)
    }
    if update.Price != nil {
        out.Price = copyPtr(update.Price)
    }
    if update.PriceChange != nil {
        out.PriceChange = copyPtr(update.PriceChange)
    }
    if update.PercentChange != nil {
        out.PercentChange = copyPtr(update.PercentChange)
    }
    if update.High != nil {
        out.High = copyPtr(update.High)
    }
    if update.Low != nil {
        out.Low = copyPtr(update.Low)
    }
    if update.UpdatedTime != nil {
        out.UpdatedTime = copyPtr(update.UpdatedTime)
    }
    if update.Confirmed != nil {
        out.Confirmed = copyPtr(update.Confirmed)
    }
    return out
}

func (r WatchlistRow) clone() WatchlistRow {
    return WatchlistRow{
        Symbol:        copyPtr(r.Symbol),
        AssetType:     copyPtr(r.AssetType),
        Price:         copyPtr(r.Price),
        PriceChange:   copyPtr(r.PriceChange),
        PercentChange: copyPtr(r.PercentChange),
        High:          copyPtr(r.High),
        Low:           copyPtr(r.Low),
        UpdatedTime:   copyPtr(r.UpdatedTime),
        Confirmed:     copyPtr(r.Confirmed),
    }
}

// ToMap converts the present fields to a map for a redis hash.
func (r WatchlistRow) ToMap() map[string]interface{} {
    m := make(map[string]interface{})
    if r.Symbol != nil {
        m[FieldSymbol] = *r.Symbol
    }
    if r.AssetType != nil {
        m[FieldAssetType] = *r.AssetType
    }
    putFloat(m, FieldPrice, r.Price)
    putFloat(m, FieldPriceChange, r.PriceChange)
    putFloat(m, FieldPercentChange, r.PercentChange)
    putFloat(m, FieldHigh, r.High)
    putFloat(m, FieldLow, r.Low)
    if r.UpdatedTime != nil {
        m[FieldUpdatedTime] = *r.UpdatedTime
    }
    if r.Confirmed != nil {
        m[FieldConfirmed] = strconv.FormatBool(*r.Confirmed)
    }
    return m
}

func putFloat(m map[string]interface{}, key string, v *float64) {
    if v != nil {
        m[key] = strconv.FormatFloat(*v, 'g', -1, 64)
    }
}

// WatchlistRowFromMap parses a redis HGETALL result. Missing keys stay absent,
// unknown keys are ignored, and malformed numbers or booleans are errors.
func WatchlistRowFromMap(m map[string]string) (WatchlistRow, error) {
    var r WatchlistRow

    if v, ok := m[FieldSymbol]; ok {
        r.Symbol = &v
    }
    if v, ok := m[FieldAssetType]; ok {
        r.AssetType = &v
    }
    floats := []struct {
        key string
        dst **float64
    }{
        {FieldPrice, &r.Price},
        {FieldPriceChange, &r.PriceChange},
        {FieldPercentChange, &r.PercentChange},
        {FieldHigh, &r.High},
        {FieldLow, &r.Low},
    }
    for _, f := range floats {
        v, ok := m[f.key]
        if !ok {
            continue
        }
        parsed, err := strconv.ParseFloat(v, 64)
        if err != nil {
            return r, fmt.Errorf("%s parse error: %w", f.key, err)
        }
        *f.dst = &parsed
    }
    if v, ok := m[FieldUpdatedTime]; ok {
        r.UpdatedTime = &v
    }
    if v, ok := m[FieldConfirmed]; ok {
        b, err := strconv.ParseBool(v)
        if err != nil {
            return r, fmt.Errorf("confirmed parse error: %w", err)
        }
        r.Confirmed = &b
    }
    return r, nil
}

// ToJSON converts to JSON string for pub/sub
func (r WatchlistRow) ToJSON() (string, error) {
    data, err := json.Marshal(r)
    if err != nil {
        return "", fmt.Errorf("json marshal error: %w", err)
    }
    return string(data), nil
}

// WatchlistRowFromJSON decodes and sanitizes a row.
func WatchlistRowFromJSON(data string) (WatchlistRow, error) {
    var r WatchlistRow
    if err := json.Unmarshal([]byte(data), &r); err != nil {
        return r, fmt.Errorf("json unmarshal error: %w", err)
    }

    r.Sanitize()
    return r, nil
}

func copyPtr[T any](p *T) *T {
    if p == nil {
        return nil
    }
    v := *p
    return &v
}
