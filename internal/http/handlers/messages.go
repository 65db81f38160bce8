package handlers

// Indonesian translations for the user-facing error codes. Anything absent
// here falls back to the handler's English message.
var messagesID = map[string]string{
	"unauthorized":         "tidak diizinkan",
	"bad_request":          "permintaan tidak valid",
	"not_found":            "tidak ditemukan",
	"insufficient_credits": "kredit tidak mencukupi",
	"upstream_rejected":    "permintaan generasi ditolak",
	"upstream_unavailable": "layanan generasi sedang tidak tersedia",
	"internal":             "terjadi kesalahan pada server",
}

func localizedMessage(locale, errCode, fallback string) string {
	if locale == "id" {
		if msg, ok := messagesID[errCode]; ok {
			return msg
		}
	}
	return fallback
}
