package handler

import (
	"github.com/destromod/crowdnav/internal/crowd"
	"github.com/destromod/crowdnav/internal/net"
	"github.com/destromod/crowdnav/internal/net/packet"
)

// HandleStatsRequest answers C_OPCODE_STATS_REQUEST with S_OPCODE_STATS.
func HandleStatsRequest(sess *net.Session, _ *packet.Reader, deps *Deps) {
	sess.Send(BuildStatsPacket(deps.Crowd.Stats(), deps.World.NpcCount(), deps.World.PlayerCount()))
}

// BuildStatsPacket encodes S_OPCODE_STATS:
// [D active][D capacity][D free][D npcs][D players] followed by the
// counters as Q in Stats field order from PathsCalculated to SkippedCycles.
func BuildStatsPacket(st crowd.Stats, npcs, players int) []byte {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_STATS)
	w.WriteD(int32(st.ActiveCount))
	w.WriteD(int32(st.Capacity))
	w.WriteD(int32(st.Free))
	w.WriteD(int32(npcs))
	w.WriteD(int32(players))
	for _, v := range []uint64{
		st.PathsCalculated,
		st.ForceStops,
		st.TargetsReached,
		st.Admissions,
		st.Rejections,
		st.Evictions,
		st.CleanupSweeps,
		st.CrowdUpdates,
		st.TickFailures,
		st.SkippedCycles,
	} {
		w.WriteQ(v)
	}
	return w.Bytes()
}
