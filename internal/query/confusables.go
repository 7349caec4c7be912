package query

// confusables maps look-alike code points to the ASCII character they imitate.
// Entries are applied after NFKD, so fullwidth and mathematical forms are already
// folded by the compatibility decomposition and do not need to be listed.
var confusables = map[rune]rune{
	// Cyrillic
	'\u0430': 'a', // cyrillic small letter a
	'\u0432': 'b', // cyrillic small letter ve
	'\u0441': 'c', // cyrillic small letter es
	'\u0501': 'd', // cyrillic small letter komi de
	'\u0435': 'e', // cyrillic small letter ie
	'\u04BB': 'h', // cyrillic small letter shha
	'\u0456': 'i', // cyrillic small letter byelorussian-ukrainian i
	'\u0458': 'j', // cyrillic small letter je
	'\u043A': 'k', // cyrillic small letter ka
	'\u04CF': 'l', // cyrillic small letter palochka
	'\u043C': 'm', // cyrillic small letter em
	'\u043E': 'o', // cyrillic small letter o
	'\u0440': 'p', // cyrillic small letter er
	'\u051B': 'q', // cyrillic small letter qa
	'\u0455': 's', // cyrillic small letter dze
	'\u0442': 't', // cyrillic small letter te
	'\u0446': 'u', // cyrillic small letter tse
	'\u0475': 'v', // cyrillic small letter izhitsa
	'\u051D': 'w', // cyrillic small letter we
	'\u0445': 'x', // cyrillic small letter ha
	'\u0443': 'y', // cyrillic small letter u
	'\u0410': 'A', // cyrillic capital letter a
	'\u0412': 'B', // cyrillic capital letter ve
	'\u0421': 'C', // cyrillic capital letter es
	'\u0415': 'E', // cyrillic capital letter ie
	'\u041D': 'H', // cyrillic capital letter en
	'\u0406': 'I', // cyrillic capital letter byelorussian-ukrainian i
	'\u0408': 'J', // cyrillic capital letter je
	'\u041A': 'K', // cyrillic capital letter ka
	'\u041C': 'M', // cyrillic capital letter em
	'\u041E': 'O', // cyrillic capital letter o
	'\u0420': 'P', // cyrillic capital letter er
	'\u0405': 'S', // cyrillic capital letter dze
	'\u0422': 'T', // cyrillic capital letter te
	'\u0425': 'X', // cyrillic capital letter ha
	'\u04AE': 'Y', // cyrillic capital letter straight u
	'\u051C': 'W', // cyrillic capital letter we
	'\u051A': 'Q', // cyrillic capital letter qa
	'\u0500': 'D', // cyrillic capital letter komi de
	// Greek
	'\u03B1': 'a', // greek small letter alpha
	'\u03B5': 'e', // greek small letter epsilon
	'\u03B9': 'i', // greek small letter iota
	'\u03BA': 'k', // greek small letter kappa
	'\u03BD': 'v', // greek small letter nu
	'\u03BF': 'o', // greek small letter omicron
	'\u03C1': 'p', // greek small letter rho
	'\u03C4': 't', // greek small letter tau
	'\u03C5': 'u', // greek small letter upsilon
	'\u03C7': 'x', // greek small letter chi
	'\u03B3': 'y', // greek small letter gamma
	'\u0391': 'A', // greek capital letter alpha
	'\u0392': 'B', // greek capital letter beta
	'\u0395': 'E', // greek capital letter epsilon
	'\u0396': 'Z', // greek capital letter zeta
	'\u0397': 'H', // greek capital letter eta
	'\u0399': 'I', // greek capital letter iota
	'\u039A': 'K', // greek capital letter kappa
	'\u039C': 'M', // greek capital letter mu
	'\u039D': 'N', // greek capital letter nu
	'\u039F': 'O', // greek capital letter omicron
	'\u03A1': 'P', // greek capital letter rho
	'\u03A4': 'T', // greek capital letter tau
	'\u03A5': 'Y', // greek capital letter upsilon
	'\u03A7': 'X', // greek capital letter chi
	// Armenian
	'\u0585': 'o', // armenian small letter oh
	'\u057D': 'u', // armenian small letter seh
	'\u0581': 'g', // armenian small letter co
	'\u0570': 'h', // armenian small letter ho
	'\u0578': 'n', // armenian small letter vo
	'\u057C': 'n', // armenian small letter ra
	'\u0584': 'p', // armenian small letter keh
	'\u054D': 'U', // armenian capital letter seh
	'\u0555': 'O', // armenian capital letter oh
	// Latin small capitals and dotless forms
	'\u1D00': 'a', // latin letter small capital a
	'\u0299': 'b', // latin letter small capital b
	'\u1D04': 'c', // latin letter small capital c
	'\u1D05': 'd', // latin letter small capital d
	'\u1D07': 'e', // latin letter small capital e
	'\u0262': 'g', // latin letter small capital g
	'\u029C': 'h', // latin letter small capital h
	'\u026A': 'i', // latin letter small capital i
	'\u1D0A': 'j', // latin letter small capital j
	'\u1D0B': 'k', // latin letter small capital k
	'\u029F': 'l', // latin letter small capital l
	'\u1D0D': 'm', // latin letter small capital m
	'\u0274': 'n', // latin letter small capital n
	'\u1D0F': 'o', // latin letter small capital o
	'\u1D18': 'p', // latin letter small capital p
	'\u0280': 'r', // latin letter small capital r
	'\uA731': 's', // latin letter small capital s
	'\u1D1B': 't', // latin letter small capital t
	'\u1D1C': 'u', // latin letter small capital u
	'\u1D20': 'v', // latin letter small capital v
	'\u1D21': 'w', // latin letter small capital w
	'\u028F': 'y', // latin letter small capital y
	'\u1D22': 'z', // latin letter small capital z
	'\u0131': 'i', // latin small letter dotless i
	'\u0237': 'j', // latin small letter dotless j
	'\u0251': 'a', // latin small letter alpha
	'\u0261': 'g', // latin small letter script g
	// Punctuation
	'\u204F': ';', // reversed semicolon
	'\u201A': ',', // single low-9 quotation mark
	'\u066B': ',', // arabic decimal separator
	'\u00B7': '.', // middle dot
	'\u2010': '-', // hyphen
	'\u2012': '-', // figure dash
	'\u2013': '-', // en dash
	'\u2014': '-', // em dash
	'\u2212': '-', // minus sign
	'\u2044': '/', // fraction slash
	'\u2215': '/', // division slash
	'\u2217': '*', // asterisk operator
	'\u01C0': '|', // latin letter dental click
}
