package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateConfigSchemaRequiredField(t *testing.T) {
	schema := map[string]interface{}{"required": []interface{}{"max_iterations"}}
	assert.Error(t, validateConfigSchema(map[string]interface{}{}, schema))
	assert.NoError(t, validateConfigSchema(map[string]interface{}{"max_iterations": float64(1)}, schema))
}

func TestValidateConfigSchemaPropertyType(t *testing.T) {
	schema := map[string]interface{}{
		"properties": map[string]interface{}{
			"max_iterations": map[string]interface{}{"type": "number"},
		},
	}
	assert.NoError(t, validateConfigSchema(map[string]interface{}{"max_iterations": float64(5)}, schema))
	assert.Error(t, validateConfigSchema(map[string]interface{}{"max_iterations": "five"}, schema))
}

func TestValidateConfigSchemaEmptySchemaAllowsAnything(t *testing.T) {
	assert.NoError(t, validateConfigSchema(map[string]interface{}{"anything": true}, map[string]interface{}{}))
}
