package main

import (
	"testing"

	_ "github.com/odyssey-erp/procure/internal/testing/guard"
)

func TestMainReturnsInTestMode(t *testing.T) {
	main()
}
