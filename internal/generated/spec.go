package generated

//go:generate go run github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen -generate types,gin -package generated -o api.gen.go openapi.yaml

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var specYAML []byte

var (
	swaggerOnce sync.Once
	swagger     *openapi3.T
	swaggerErr  error
)

// GetSwagger は埋め込んだAPI定義を読み込んで返す
func GetSwagger() (*openapi3.T, error) {
	swaggerOnce.Do(func() {
		loader := openapi3.NewLoader()
		swagger, swaggerErr = loader.LoadFromData(specYAML)
		if swaggerErr != nil {
			swaggerErr = fmt.Errorf("API定義の読み込みに失敗: %w", swaggerErr)
		}
	})
	return swagger, swaggerErr
}
