// Package scripts owns the catalog of server-side Lua script bodies used by
// compound atomic mutations, the process-wide cache of their content-addressed
// handles, and the recovery protocol that survives server-side script-cache
// eviction.
package scripts

// Logical script names. Wrappers buffer deferred commands by name; the
// handle is resolved from the registry at flush time.
const (
	RemoveRange = "remove_range"
	NumMul      = "num_mul"
	NumFloorDiv = "num_floordiv"
	NumMod      = "num_mod"
	NumPow      = "num_pow"
	NumTrueDiv  = "num_truediv"
	StrAppend   = "str_append"
	StrMul      = "str_mul"
	DictPop     = "dict_pop"
	DictPopItem = "dict_popitem"
)

// removeRangeScript deletes a contiguous index range from a JSON array.
// Negative indices resolve python-slice-style, out-of-bounds bounds clamp to
// [0, length], and start >= length or start >= end is a no-op.
const removeRangeScript = `
local key = KEYS[1]
local path = ARGV[1]
local start_idx = tonumber(ARGV[2])
local end_idx = tonumber(ARGV[3])

local arr_json = redis.call('JSON.GET', key, path)
if not arr_json or arr_json == 'null' then
    return nil
end

local result = cjson.decode(arr_json)
local arr = result[1]
local n = #arr

if start_idx < 0 then start_idx = n + start_idx end
if end_idx < 0 then end_idx = n + end_idx end
if start_idx < 0 then start_idx = 0 end
if end_idx > n then end_idx = n end
if start_idx >= n or start_idx >= end_idx then return true end

local new_arr = {}
local j = 1

for i = 1, start_idx do
    new_arr[j] = arr[i]
    j = j + 1
end

for i = end_idx + 1, n do
    new_arr[j] = arr[i]
    j = j + 1
end

local encoded = j == 1 and '[]' or cjson.encode(new_arr)
redis.call('JSON.SET', key, path, encoded)
return true
`

// numericScript builds the read-compute-rewrite script for an arithmetic
// operation the native increment command cannot express.
func numericScript(expr string) string {
	return `
local key = KEYS[1]
local path = ARGV[1]
local operand = tonumber(ARGV[2])

local current_json = redis.call('JSON.GET', key, path)
if not current_json or current_json == 'null' then
    return nil
end
local value = tonumber(cjson.decode(current_json)[1])
local result = ` + expr + `
redis.call('JSON.SET', key, path, tostring(result))
return tostring(result)
`
}

const strAppendScript = `
local key = KEYS[1]
local path = ARGV[1]
local suffix = ARGV[2]

local current_json = redis.call('JSON.GET', key, path)
if not current_json or current_json == 'null' then
    return nil
end
local value = cjson.decode(current_json)[1]
local result = value .. suffix
redis.call('JSON.SET', key, path, cjson.encode(result))
return result
`

const strMulScript = `
local key = KEYS[1]
local path = ARGV[1]
local count = tonumber(ARGV[2])

local current_json = redis.call('JSON.GET', key, path)
if not current_json or current_json == 'null' then
    return nil
end
local value = cjson.decode(current_json)[1]
local result = string.rep(value, count)
redis.call('JSON.SET', key, path, cjson.encode(result))
return result
`

// dictPopScript atomically reads and deletes one map member, returning its
// JSON-encoded value or nil when absent.
const dictPopScript = `
local key = KEYS[1]
local path = ARGV[1]
local field = ARGV[2]
local member_path = path .. '.' .. field

local value_json = redis.call('JSON.GET', key, member_path)
if not value_json or value_json == 'null' then
    return nil
end
local value = cjson.decode(value_json)[1]
redis.call('JSON.DEL', key, member_path)
return cjson.encode(value)
`

// dictPopItemScript removes an arbitrary member, returning a JSON-encoded
// [key, value] pair, or nil when the map is empty.
const dictPopItemScript = `
local key = KEYS[1]
local path = ARGV[1]

local obj_json = redis.call('JSON.GET', key, path)
if not obj_json or obj_json == 'null' then
    return nil
end
local obj = cjson.decode(obj_json)[1]
local k = nil
local v = nil
for key_, val in pairs(obj) do
    k = key_
    v = val
    break
end
if k == nil then
    return nil
end
redis.call('JSON.DEL', key, path .. '.' .. k)
return cjson.encode({k, v})
`

var catalog = map[string]string{
	RemoveRange: removeRangeScript,
	NumMul:      numericScript("value * operand"),
	NumFloorDiv: numericScript("math.floor(value / operand)"),
	NumMod:      numericScript("value % operand"),
	NumPow:      numericScript("value ^ operand"),
	NumTrueDiv:  numericScript("value / operand"),
	StrAppend:   strAppendScript,
	StrMul:      strMulScript,
	DictPop:     dictPopScript,
	DictPopItem: dictPopItemScript,
}

// Source returns a script body by logical name.
func Source(name string) (string, bool) {
	src, ok := catalog[name]
	return src, ok
}

// Names lists the catalog's logical script names.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	return names
}
