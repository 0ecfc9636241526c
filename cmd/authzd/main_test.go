package main

import (
	"testing"

	_ "github.com/odyssey-erp/odyssey-authz/testing"
)

func TestMainSkipsRuntimeInTestMode(t *testing.T) {
	main()
}
