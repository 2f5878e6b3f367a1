package orders

// ShippingMethod selects a fixed surcharge added on top of the subtotal.
type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "standard"
	ShippingExpress  ShippingMethod = "express"
)

var shippingFees = map[ShippingMethod]int64{
	ShippingStandard: 695,
	ShippingExpress:  1295,
}

// NormalizeShipping maps empty or unknown methods to standard.
func NormalizeShipping(m ShippingMethod) ShippingMethod {
	if _, ok := shippingFees[m]; ok {
		return m
	}
	return ShippingStandard
}

// ShippingFee returns the surcharge in minor units for m after normalization.
func ShippingFee(m ShippingMethod) int64 {
	return shippingFees[NormalizeShipping(m)]
}
