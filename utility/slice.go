package utility

func Contains[T comparable](array []T, s T) bool {
	for _, v := range array {
		if v == s {
			return true
		}
	}
	return false
}
