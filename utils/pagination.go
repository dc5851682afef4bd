package utils

const pageSizeDefault = 50
const pageSizeMax = 500

// GetPaginationParams calculates the offset and limit for a listing query.
// Nil or out-of-range values fall back to defaults; the limit is capped so a
// single report cannot drag the whole transaction history across the wire.
func GetPaginationParams(offset *int, limit *int) (int, int) {
	finalOffset := 0
	finalLimit := pageSizeDefault

	if offset != nil && *offset >= 0 {
		finalOffset = *offset
	}

	if limit != nil && *limit > 0 {
		finalLimit = min(*limit, pageSizeMax)
	}

	return finalOffset, finalLimit
}
