package schema

// AttributeKey names a custom attribute that takes part in change detection.
type AttributeKey string

const (
	AttrCanRunOffline               AttributeKey = "CanRunOffline"
	AttrCanSkipKoreanIDVerification AttributeKey = "CanSkipKoreanIdVerification"
	AttrCloudIncludeList            AttributeKey = "CloudIncludeList"
	AttrCloudSaveFolder             AttributeKey = "CloudSaveFolder"
	AttrCloudSaveFolderMac          AttributeKey = "CloudSaveFolder_MAC"
	AttrFolderName                  AttributeKey = "FolderName"
	AttrMonitorPresence             AttributeKey = "MonitorPresence"
	AttrPresenceID                  AttributeKey = "PresenceId"
	AttrRequirementsJSON            AttributeKey = "RequirementsJson"
	AttrUseAccessControl            AttributeKey = "UseAccessControl"
	AttrRegistryKey                 AttributeKey = "RegistryKey"
	AttrRegistryPath                AttributeKey = "RegistryPath"
	AttrAdditionalCommandline       AttributeKey = "AdditionalCommandline"
	AttrThirdPartyManagedApp        AttributeKey = "ThirdPartyManagedApp"
	AttrPartnerLinkType             AttributeKey = "partnerLinkType"
	AttrOwnershipToken              AttributeKey = "OwnershipToken"
)

// knownAttributes is ordered; change records follow this order.
var knownAttributes = []AttributeKey{
	AttrCanRunOffline,
	AttrCanSkipKoreanIDVerification,
	AttrCloudIncludeList,
	AttrCloudSaveFolder,
	AttrCloudSaveFolderMac,
	AttrFolderName,
	AttrMonitorPresence,
	AttrPresenceID,
	AttrRequirementsJSON,
	AttrUseAccessControl,
	AttrRegistryKey,
	AttrRegistryPath,
	AttrAdditionalCommandline,
	AttrThirdPartyManagedApp,
	AttrPartnerLinkType,
	AttrOwnershipToken,
}

// KnownAttributes returns the attribute keys compared between snapshots.
func KnownAttributes() []AttributeKey {
	out := make([]AttributeKey, len(knownAttributes))
	copy(out, knownAttributes)
	return out
}

// ParseAttributeKey reports whether name is one of the known attribute keys.
func ParseAttributeKey(name string) (AttributeKey, bool) {
	for _, k := range knownAttributes {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}

// String returns the attribute name as it appears in the item document.
func (k AttributeKey) String() string {
	return string(k)
}
