package membriaerr_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/actiquest-dev/membria/membriaerr"
)

func TestCode(t *testing.T) {
	wrapped := fmt.Errorf("decision dec_1: %w", membriaerr.ErrAlreadyTerminal)

	assert.Equal(t, "already_terminal", membriaerr.Code(wrapped))
	assert.Equal(t, "validation", membriaerr.Code(membriaerr.ErrValidation))
	assert.Equal(t, "", membriaerr.Code(nil))
	assert.Equal(t, "internal", membriaerr.Code(fmt.Errorf("boom")))
}
