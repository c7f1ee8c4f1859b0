package enums

import "fmt"

type CouponStatus string

const (
	CouponStatusActive   CouponStatus = "active"
	CouponStatusInactive CouponStatus = "inactive"
)

func (s CouponStatus) String() string {
	return string(s)
}

func (s CouponStatus) IsValid() bool {
	return s == CouponStatusActive || s == CouponStatusInactive
}

func ParseCouponStatus(value string) (CouponStatus, error) {
	s := CouponStatus(value)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid coupon status %q", value)
	}
	return s, nil
}
