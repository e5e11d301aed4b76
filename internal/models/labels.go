package models

// Display labels for the consoles. Unknown values fall back to the raw
// backend string so a new status never renders blank.
var statusLabels = map[string]string{
	string(EscrowHeld):                "Menunggu Upload Hi-Res",
	string(EscrowWaitingConfirmation): "Menunggu Konfirmasi",
	string(EscrowRevisionRequested):   "Revisi Diminta",
	string(EscrowReleased):            "Dana Diteruskan",
	string(EscrowRefunded):            "Dikembalikan",
	string(EscrowNotApplicable):       "Tanpa Escrow",

	string(WithdrawalPending):   "Menunggu",
	string(WithdrawalApproved):  "Disetujui",
	string(WithdrawalPaid):      "Dibayar",
	string(WithdrawalRejected):  "Ditolak",
	string(WithdrawalCancelled): "Dibatalkan",
}

var entryTypeLabels = map[string]string{
	WalletEntryEscrowRelease:     "Penjualan Foto",
	WalletEntryChargeback:        "Koreksi Dispute",
	WalletEntryWithdrawalHold:    "Penarikan Diajukan",
	WalletEntryWithdrawalRelease: "Penarikan Dibatalkan",
	WalletEntryWithdrawalPaid:    "Penarikan Dibayar",
}

func StatusLabel(status string) string {
	if l, ok := statusLabels[status]; ok {
		return l
	}
	return status
}

func EntryTypeLabel(entryType string) string {
	if l, ok := entryTypeLabels[entryType]; ok {
		return l
	}
	return entryType
}
