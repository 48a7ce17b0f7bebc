package packet

// Protocol version announced in S_OPCODE_INIT and expected in C_OPCODE_HELLO.
const ProtocolVersion = 1

// Client (host game server) → sidecar opcodes.
const (
	C_OPCODE_HELLO         byte = 1  // [C version][S host name]
	C_OPCODE_NPC_SPAWN     byte = 10 // [S id][S profile][F x][F y][F z]
	C_OPCODE_NPC_DEATH     byte = 11 // [S id]
	C_OPCODE_NPC_DESPAWN   byte = 12 // [S id]
	C_OPCODE_NPC_DAMAGED   byte = 13 // [S id][S attacker player id, empty if not a player]
	C_OPCODE_PLAYER_STATE  byte = 20 // [S id][F x][F y][F z][C alive][C ready now]
	C_OPCODE_PLAYER_LEAVE  byte = 21 // [S id]
	C_OPCODE_SET_TARGET    byte = 30 // [S id][F x][F y][F z]
	C_OPCODE_STATS_REQUEST byte = 40 // no body
	C_OPCODE_PING          byte = 50 // [D nonce]
)

// Sidecar → client opcodes.
const (
	S_OPCODE_INIT      byte = 101 // [C version][S server name][D server id]
	S_OPCODE_NPC_MOVE  byte = 110 // [S id][F x][F y][F z][F orientation][F horizontal speed][F vertical speed]
	S_OPCODE_NPC_STATE byte = 111 // [S id][S from][S to][S target player id]
	S_OPCODE_STATS     byte = 140 // see handler.buildStatsPacket
	S_OPCODE_PONG      byte = 150 // [D nonce]
)
