package serializer

// blockSchema declares the params a block type must carry to be executable.
type blockSchema struct {
	Required []string
}

// blockSchemas maps block type to its schema. Types not listed here have
// no required params.
var blockSchemas = map[string]blockSchema{
	"starter":   {},
	"agent":     {Required: []string{"model"}},
	"condition": {Required: []string{"condition"}},
	"tool":      {Required: []string{"tool"}},
	"loop":      {},
	"parallel":  {},
	"response":  {},
}

func requiredParams(blockType string) []string {
	return blockSchemas[blockType].Required
}
