package counters

// Delta subtracts initial from final field-by-field. Known=false on either
// side propagates to Known=false in the result, so a record with one
// degraded field never silently reports it as zero cost. Saturates at zero
// rather than wrapping negative, guarding against a counter that resets
// across a program replacement on a platform where a counter isn't purely
// monotonic, even though Linux's own counters are. RSSHighWater and
// ThreadCount are not deltas: the final reading is passed through.
func Delta(initial, final Snapshot) Snapshot {
	return Snapshot{
		OnCPU:        deltaValue(initial.OnCPU, final.OnCPU),
		RunnableWait: deltaValue(initial.RunnableWait, final.RunnableWait),
		RSSHighWater: final.RSSHighWater, // high-water mark, not a delta
		BytesRead:    deltaValue(initial.BytesRead, final.BytesRead),
		BytesWritten: deltaValue(initial.BytesWritten, final.BytesWritten),
		MinorFaults:  deltaValue(initial.MinorFaults, final.MinorFaults),
		MajorFaults:  deltaValue(initial.MajorFaults, final.MajorFaults),
		ThreadCount:  final.ThreadCount, // high-water, tracked by the caller across samples
	}
}

func deltaValue(initial, final Value) Value {
	if !initial.Known || !final.Known {
		return Unknown
	}
	if final.N < initial.N {
		return Known(0)
	}
	return Known(final.N - initial.N)
}
