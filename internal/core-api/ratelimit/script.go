package ratelimit

// tokenBucketLua executa refill + consumo de forma atômica para uma chave.
// KEYS[1] = chave do bucket; ARGV = capacity, refill (tokens/s), now_ms, cost.
// tokens volta como string: o Redis trunca números Lua para inteiro na resposta.
const tokenBucketLua = `
local key      = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill   = tonumber(ARGV[2])
local now_ms   = tonumber(ARGV[3])
local cost     = tonumber(ARGV[4])

local data   = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts     = tonumber(data[2])

if tokens == nil or ts == nil then
  tokens = capacity
  ts = now_ms
end

local elapsed = now_ms - ts
if elapsed < 0 then elapsed = 0 end
tokens = math.min(capacity, tokens + (elapsed * refill / 1000.0))

local allowed = 0
local retry_after = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  retry_after = math.ceil((cost - tokens) / refill)
end

-- ts nunca anda para trás, mesmo com chamadas concorrentes fora de ordem
if now_ms > ts then ts = now_ms end
redis.call('HSET', key, 'tokens', tokens, 'ts', ts)

-- TTL = tempo até o bucket encher de novo
local reset = math.ceil((capacity - tokens) / refill)
if reset < 1 then reset = 1 end
redis.call('EXPIRE', key, reset)

return {allowed, tostring(tokens), retry_after, reset}
`
