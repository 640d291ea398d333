package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferSymbolKind(t *testing.T) {
	assert.Equal(t, KindFunction, inferSymbolKind("fn_add"))
	assert.Equal(t, KindFunction, inferSymbolKind("func_main"))
	assert.Equal(t, KindVariable, inferSymbolKind("var_count"))
	assert.Equal(t, KindVariable, inferSymbolKind("g_state"))
	assert.Equal(t, KindUnknown, inferSymbolKind("main"))
}

func TestClassificationStrings(t *testing.T) {
	assert.Equal(t, "undefined", StatusUndefined.String())
	assert.Equal(t, "weak", StatusWeak.String())
	assert.Equal(t, "common", StatusCommon.String())
	assert.Equal(t, "global", BindGlobal.String())
	assert.Equal(t, "absolute", RefAbsolute.String())
	assert.Equal(t, "relative", RefRelative.String())
	assert.Equal(t, "invalid", SymbolStatus(200).String())
}
