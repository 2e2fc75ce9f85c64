package pionengine

import "testing"

func TestPickNativeCodecPrefersRequestedOrder(t *testing.T) {
	name, pt, _ := pickNativeCodec([]string{"video/VP8", "video/H264"})
	if name != "video/VP8" || pt != 96 {
		t.Fatalf("expected video/VP8 (96) to win, got %s (%d)", name, pt)
	}
}

func TestPickNativeCodecFallsBackWhenNothingMatches(t *testing.T) {
	name, _, _ := pickNativeCodec([]string{"video/AV1"})
	if name != nativeCodecs[0].name {
		t.Fatalf("expected fallback to first native codec %s, got %s", nativeCodecs[0].name, name)
	}
}

func TestAvailableNativeCodecNamesListsAll(t *testing.T) {
	names := availableNativeCodecNames()
	if len(names) != len(nativeCodecs) {
		t.Fatalf("expected %d codec names, got %d", len(nativeCodecs), len(names))
	}
}

func TestListenNativeUDPHonorsPortRange(t *testing.T) {
	conn, port, err := listenNativeUDP("127.0.0.1", 40000, 40010)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()
	if port < 40000 || port > 40010 {
		t.Fatalf("expected port in [40000, 40010], got %d", port)
	}
}

func TestRandomSSRCIsNonDeterministic(t *testing.T) {
	a := randomSSRC()
	b := randomSSRC()
	if a == 0 && b == 0 {
		t.Fatal("expected at least one non-zero SSRC across two draws")
	}
}
