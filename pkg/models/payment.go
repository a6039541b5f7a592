package models

import (
    "encoding/json"
    "fmt"

    "github.com/alim08/fin_desk/pkg/validation"
)

// CardDetails holds the nullable descriptive fields of a stored card.
//
// last4/cardLast4 and expirationDate/cardExpMonth+cardExpYear overlap, and
// nothing says which of each pair is authoritative. Both are kept verbatim
// and no consistency rule is applied between them.
type CardDetails struct {
    Last4          *string `json:"last4" validate:"omitempty,last4"`
    ExpirationDate *string `json:"expirationDate" validate:"omitempty,max=32"`
    BillingAddress *string `json:"billingAddress" validate:"omitempty,max=512"`
    CardBrand      *string `json:"cardBrand" validate:"omitempty,max=32"`
    CardExpMonth   *int    `json:"cardExpMonth" validate:"omitempty,min=1,max=12"`
    CardExpYear    *int    `json:"cardExpYear" validate:"omitempty,min=1970,max=9999"`
    CardLast4      *string `json:"cardLast4" validate:"omitempty,last4"`
}

// Sanitize cleans present text fields.
func (d *CardDetails) Sanitize() {
    validation.SanitizeOptional(d.Last4)
    validation.SanitizeOptional(d.ExpirationDate)
    validation.SanitizeOptional(d.BillingAddress)
    validation.SanitizeOptional(d.CardBrand)
    validation.SanitizeOptional(d.CardLast4)
}

// PaymentMethod is a tokenized payment instrument on file for an account.
// The instrument itself lives with the payment processor; StripePaymentMethodID
// is the opaque reference to it.
type PaymentMethod struct {
    ID                    int64  `json:"id"`
    AccountID             string `json:"accountId" validate:"required,max=128"`
    StripePaymentMethodID string `json:"stripePaymentMethodId" validate:"required,max=255"`
    CardDetails
    IsDefault bool   `json:"isDefault"`
    Type      string `json:"type" validate:"required,max=32"`
    CreatedAt string `json:"createdAt" validate:"required"`
    UpdatedAt string `json:"updatedAt" validate:"required"`
}

// PaymentMethodRequiredFields are the keys a serialized PaymentMethod must carry.
var PaymentMethodRequiredFields = []string{
    "id",
    "accountId",
    "stripePaymentMethodId",
    "createdAt",
    "isDefault",
    "type",
    "updatedAt",
}

// Validate validates the PaymentMethod struct
func (pm PaymentMethod) Validate() error {
    if errors := validation.ValidateStruct(pm); len(errors) > 0 {
        return errors
    }
    return nil
}

// Sanitize cleans text fields in place
func (pm *PaymentMethod) Sanitize() {
    pm.AccountID = validation.SanitizeString(pm.AccountID)
    pm.StripePaymentMethodID = validation.SanitizeString(pm.StripePaymentMethodID)
    pm.Type = validation.SanitizeString(pm.Type)
    pm.CardDetails.Sanitize()
}

// ToJSON converts to JSON. Absent nullable fields are written as null.
func (pm PaymentMethod) ToJSON() (string, error) {
    data, err := json.Marshal(pm)
    if err != nil {
        return "", fmt.Errorf("json marshal error: %w", err)
    }
    return string(data), nil
}

// PaymentMethodFromJSON decodes a serialized PaymentMethod. Every required
// key must be present; nullable keys may be null or missing.
func PaymentMethodFromJSON(data []byte) (PaymentMethod, error) {
    var pm PaymentMethod

    var raw map[string]json.RawMessage
    if err := json.Unmarshal(data, &raw); err != nil {
        return pm, fmt.Errorf("json unmarshal error: %w", err)
    }
    if missing := validation.RequireKeys(raw, PaymentMethodRequiredFields); len(missing) > 0 {
        return pm, missing
    }
    for _, key := range PaymentMethodRequiredFields {
        if string(raw[key]) == "null" {
            return pm, validation.ValidationErrors{{Field: key, Message: key + " must not be null"}}
        }
    }

    if err := json.Unmarshal(data, &pm); err != nil {
        return pm, fmt.Errorf("json unmarshal error: %w", err)
    }

    pm.Sanitize()
    if err := pm.Validate(); err != nil {
        return pm, err
    }
    return pm, nil
}

// PaymentMethodInput is the client-writable part of a PaymentMethod, used
// when registering or editing an instrument. The account comes from the
// caller's identity, and id and timestamps from storage.
type PaymentMethodInput struct {
    StripePaymentMethodID string `json:"stripePaymentMethodId" validate:"required,max=255"`
    Type                  string `json:"type" validate:"required,max=32"`
    IsDefault             bool   `json:"isDefault"`
    CardDetails
}

// Validate validates the input
func (in PaymentMethodInput) Validate() error {
    if errors := validation.ValidateStruct(in); len(errors) > 0 {
        return errors
    }
    return nil
}

// Sanitize cleans text fields in place
func (in *PaymentMethodInput) Sanitize() {
    in.StripePaymentMethodID = validation.SanitizeString(in.StripePaymentMethodID)
    in.Type = validation.SanitizeString(in.Type)
    in.CardDetails.Sanitize()
}

// ToPaymentMethod builds an unsaved PaymentMethod owned by accountID.
func (in PaymentMethodInput) ToPaymentMethod(accountID string) PaymentMethod {
    return PaymentMethod{
        AccountID:             accountID,
        StripePaymentMethodID: in.StripePaymentMethodID,
        CardDetails:           in.CardDetails,
        IsDefault:             in.IsDefault,
        Type:                  in.Type,
    }
}

// Input returns the client-writable part of pm.
func (pm PaymentMethod) Input() PaymentMethodInput {
    return PaymentMethodInput{
        StripePaymentMethodID: pm.StripePaymentMethodID,
        Type:                  pm.Type,
        IsDefault:             pm.IsDefault,
        CardDetails:           pm.CardDetails,
    }
}
