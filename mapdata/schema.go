package mapdata

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema 从 Map 类型反射出的 JSON schema
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(new(Map))
	schema.Title = "Device Arena Map"
	schema.Description = "Author-exported devices, tiles, wires and code grids loaded by a room"
	return schema
}

var (
	compileOnce sync.Once
	compiled    *validator.Schema
	compileErr  error
)

func compiledSchema() (*validator.Schema, error) {
	compileOnce.Do(func() {
		raw, err := json.Marshal(Schema())
		if err != nil {
			compileErr = fmt.Errorf("marshal map schema: %w", err)
			return
		}
		compiled, compileErr = validator.CompileString("map.schema.json", string(raw))
		if compileErr != nil {
			compileErr = fmt.Errorf("compile map schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}
